package routing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/bottle-collector/internal/models"
)

func TestOSRMDirections(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		first := []models.Coord{origin, {Lat: 51.0457, Lng: -114.0719}}
		second := []models.Coord{{Lat: 51.0457, Lng: -114.0719}, destination}
		body := map[string]any{
			"code": "Ok",
			"routes": []any{map[string]any{
				"geometry": EncodePolyline(append(first, destination)),
				"distance": 300.0,
				"duration": 240.0,
				"legs": []any{map[string]any{"steps": []any{
					map[string]any{"distance": 110.0, "duration": 80.0, "name": "1 St SW", "geometry": EncodePolyline(first),
						"maneuver": map[string]any{"type": "depart", "modifier": "", "location": []float64{origin.Lng, origin.Lat}}},
					map[string]any{"distance": 190.0, "duration": 160.0, "name": "9 Ave SW", "geometry": EncodePolyline(second),
						"maneuver": map[string]any{"type": "turn", "modifier": "sharp right", "location": []float64{-114.0719, 51.0457}}},
				}}},
			}},
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
	defer srv.Close()

	o := NewOSRMProvider(srv.URL+"/", time.Second)
	r, err := o.Directions(context.Background(), origin, destination, models.Walking)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(path, "/route/v1/foot/"), path)
	assert.Equal(t, 4.0, r.DurationMinutes)
	assert.Len(t, r.Polyline, 3)
	require.Len(t, r.Steps, 2)
	assert.Equal(t, "Head onto 1 St SW", r.Steps[0].Instruction)
	assert.Equal(t, models.Coord{Lat: 51.0457, Lng: -114.0719}, r.Steps[0].End)
	assert.Equal(t, "Turn sharp right onto 9 Ave SW", r.Steps[1].Instruction)
	assert.Equal(t, "turn-sharp-right", r.Steps[1].Maneuver)
	assert.Equal(t, destination, r.Steps[1].End)
}

func TestOSRMNoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"NoRoute","message":"Impossible route"}`))
	}))
	defer srv.Close()

	_, err := NewOSRMProvider(srv.URL, time.Second).Directions(context.Background(), origin, destination, models.Driving)
	assert.ErrorIs(t, err, ErrRouteUnavailable)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "NoRoute", se.Status)
}
