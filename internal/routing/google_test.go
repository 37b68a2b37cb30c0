package routing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/bottle-collector/internal/models"
)

const directionsOK = `{
  "status": "OK",
  "routes": [{
    "overview_polyline": {"points": "ktpvHjtfwTgEgEgEgE"},
    "legs": [{
      "distance": {"value": 265, "text": "0.3 km"},
      "duration": {"value": 600, "text": "10 mins"},
      "steps": [
        {
          "html_instructions": "Head <b>north</b> on <b>1 St SW</b>",
          "distance": {"value": 120},
          "duration": {"value": 90},
          "start_location": {"lat": 51.0447, "lng": -114.0719},
          "end_location": {"lat": 51.0457, "lng": -114.0709}
        },
        {
          "html_instructions": "Turn <b>right</b><div style=\"font-size:0.9em\">Destination will be on the left</div>",
          "distance": {"value": 145},
          "duration": {"value": 510},
          "start_location": {"lat": 51.0457, "lng": -114.0709},
          "end_location": {"lat": 51.0467, "lng": -114.0699},
          "maneuver": "turn-right"
        }
      ]
    }]
  }]
}`

func TestGoogleDirectionsNormalizesResponse(t *testing.T) {
	var gotQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.Query())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(directionsOK))
	}))
	defer srv.Close()

	g := &GoogleProvider{APIKey: "k", Endpoint: srv.URL, Client: srv.Client()}
	r, err := g.Directions(context.Background(), origin, destination, models.Walking)
	require.NoError(t, err)

	q := gotQuery.Load().(url.Values)
	assert.Equal(t, []string{"51.0447,-114.0719"}, q["origin"])
	assert.Equal(t, []string{"51.0467,-114.0699"}, q["destination"])
	assert.Equal(t, []string{"walking"}, q["mode"])

	assert.Equal(t, 265.0, r.DistanceMeters)
	assert.Equal(t, 10.0, r.DurationMinutes)
	assert.Equal(t, []models.Coord{{Lat: 51.0447, Lng: -114.0719}, {Lat: 51.0457, Lng: -114.0709}, {Lat: 51.0467, Lng: -114.0699}}, r.Polyline)
	require.Len(t, r.Steps, 2)
	assert.Equal(t, "Head north on 1 St SW", r.Steps[0].Instruction)
	assert.Equal(t, 90.0, r.Steps[0].DurationSeconds)
	assert.Equal(t, "Turn rightDestination will be on the left", r.Steps[1].Instruction)
	assert.Equal(t, "turn-right", r.Steps[1].Maneuver)
	assert.Equal(t, models.Coord{Lat: 51.0467, Lng: -114.0699}, r.Steps[1].End)
}

func TestGoogleDirectionsFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "denied",
			status: 200,
			body:   `{"status":"REQUEST_DENIED","error_message":"API not enabled"}`,
			check: func(t *testing.T, err error) {
				var se *StatusError
				require.True(t, errors.As(err, &se))
				assert.Equal(t, "REQUEST_DENIED", se.Status)
				assert.Equal(t, "API not enabled", se.Message)
			},
		},
		{
			name:   "ok without routes",
			status: 200,
			body:   `{"status":"OK","routes":[]}`,
			check:  func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrNoRoute) },
		},
		{
			name:   "http error",
			status: 502,
			body:   `bad gateway`,
			check:  func(t *testing.T, err error) { assert.ErrorContains(t, err, "502") },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()
			g := &GoogleProvider{APIKey: "k", Endpoint: srv.URL, Client: srv.Client()}
			_, err := g.Directions(context.Background(), origin, destination, models.Driving)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrRouteUnavailable)
			tt.check(t, err)
		})
	}
}

func TestGoogleDirectionsMissingKeySkipsNetwork(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	g := &GoogleProvider{Endpoint: srv.URL, Client: srv.Client()}
	_, err := g.Directions(context.Background(), origin, destination, models.Driving)
	assert.ErrorIs(t, err, ErrMissingCredential)
	assert.ErrorIs(t, err, ErrRouteUnavailable)
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestGoogleDirectionsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	g := NewGoogleProvider("k", time.Second)
	g.Endpoint = srv.URL
	_, err := g.Directions(context.Background(), origin, destination, models.Driving)
	assert.ErrorIs(t, err, ErrRouteUnavailable)
}
