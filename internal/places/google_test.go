package places

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/bottle-collector/internal/models"
)

func newTestClient(t *testing.T, body string) (*GoogleClient, *url.Values) {
	t.Helper()
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return &GoogleClient{APIKey: "k", Endpoint: srv.URL, Client: srv.Client()}, &got
}

func TestNearestDepotTakesFirstResult(t *testing.T) {
	g, query := newTestClient(t, `{"status":"OK","results":[
		{"place_id":"p1","name":"Crowfoot Bottle Depot","vicinity":"1 Crowfoot Way","geometry":{"location":{"lat":51.12,"lng":-114.2}}},
		{"place_id":"p2","name":"Far Depot","geometry":{"location":{"lat":51.3,"lng":-114.5}}}
	]}`)

	p, err := g.NearestDepot(context.Background(), models.Coord{Lat: 51.1, Lng: -114.19})
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ExternalID)
	assert.Equal(t, "Crowfoot Bottle Depot", p.Name)
	assert.Equal(t, models.Coord{Lat: 51.12, Lng: -114.2}, p.Location)

	q := *query
	assert.Equal(t, "distance", q.Get("rankby"))
	assert.Equal(t, DefaultKeyword, q.Get("keyword"))
	assert.Equal(t, "51.1,-114.19", q.Get("location"))
}

func TestNearestDepotFailures(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		notFound bool
	}{
		{name: "zero results", body: `{"status":"ZERO_RESULTS","results":[]}`, notFound: true},
		{name: "empty ok", body: `{"status":"OK","results":[]}`, notFound: true},
		{name: "denied", body: `{"status":"REQUEST_DENIED","error_message":"bad key"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newTestClient(t, tt.body)
			_, err := g.NearestDepot(context.Background(), models.Coord{})
			require.Error(t, err)
			assert.Equal(t, tt.notFound, err == ErrNotFound)
		})
	}
}

func TestNearestDepotWithoutKey(t *testing.T) {
	g := NewGoogleClient("", "", 0)
	_, err := g.NearestDepot(context.Background(), models.Coord{})
	assert.ErrorIs(t, err, ErrMissingCredential)
	assert.Equal(t, DefaultKeyword, g.Keyword)
}
