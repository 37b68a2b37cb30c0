package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/example/bottle-collector/internal/models"
)

const googleDirectionsURL = "https://maps.googleapis.com/maps/api/directions/json"

// GoogleProvider queries the Google Directions JSON API.
type GoogleProvider struct {
	APIKey   string
	Endpoint string
	Client   *http.Client
}

func NewGoogleProvider(apiKey string, timeout time.Duration) *GoogleProvider {
	return &GoogleProvider{APIKey: apiKey, Endpoint: googleDirectionsURL, Client: &http.Client{Timeout: timeout}}
}

type googleDirections struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Routes       []struct {
		OverviewPolyline struct {
			Points string `json:"points"`
		} `json:"overview_polyline"`
		Legs []struct {
			Distance googleValue  `json:"distance"`
			Duration googleValue  `json:"duration"`
			Steps    []googleStep `json:"steps"`
		} `json:"legs"`
	} `json:"routes"`
}

type googleValue struct {
	Value float64 `json:"value"`
}

type googleLatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type googleStep struct {
	HTMLInstructions string       `json:"html_instructions"`
	Distance         googleValue  `json:"distance"`
	Duration         googleValue  `json:"duration"`
	StartLocation    googleLatLng `json:"start_location"`
	EndLocation      googleLatLng `json:"end_location"`
	Maneuver         string       `json:"maneuver"`
}

func (g *GoogleProvider) Directions(ctx context.Context, origin, destination models.Coord, mode models.TravelMode) (models.Route, error) {
	if g.APIKey == "" {
		return models.Route{}, ErrMissingCredential
	}
	q := url.Values{}
	q.Set("origin", formatLatLng(origin))
	q.Set("destination", formatLatLng(destination))
	q.Set("mode", string(mode))
	q.Set("key", g.APIKey)
	endpoint := g.Endpoint
	if endpoint == "" {
		endpoint = googleDirectionsURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return models.Route{}, fmt.Errorf("%w: google directions: %w", ErrRouteUnavailable, err)
	}
	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return models.Route{}, fmt.Errorf("%w: google directions: %w", ErrRouteUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.Route{}, fmt.Errorf("%w: google directions http status %d", ErrRouteUnavailable, resp.StatusCode)
	}
	var out googleDirections
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.Route{}, fmt.Errorf("%w: google directions decode: %w", ErrRouteUnavailable, err)
	}
	if out.Status != "OK" {
		return models.Route{}, &StatusError{Provider: "google", Status: out.Status, Message: out.ErrorMessage}
	}
	if len(out.Routes) == 0 || len(out.Routes[0].Legs) == 0 {
		return models.Route{}, ErrNoRoute
	}
	route := out.Routes[0]
	leg := route.Legs[0]
	points, err := DecodePolyline(route.OverviewPolyline.Points)
	if err != nil {
		return models.Route{}, fmt.Errorf("%w: google overview polyline: %w", ErrRouteUnavailable, err)
	}
	steps := make([]models.NavigationStep, 0, len(leg.Steps))
	for _, s := range leg.Steps {
		steps = append(steps, models.NavigationStep{
			Instruction:     StripMarkup(s.HTMLInstructions),
			DistanceMeters:  s.Distance.Value,
			DurationSeconds: s.Duration.Value,
			Start:           models.Coord{Lat: s.StartLocation.Lat, Lng: s.StartLocation.Lng},
			End:             models.Coord{Lat: s.EndLocation.Lat, Lng: s.EndLocation.Lng},
			Maneuver:        s.Maneuver,
		})
	}
	return models.Route{
		DistanceMeters:  leg.Distance.Value,
		DurationMinutes: leg.Duration.Value / 60,
		Polyline:        points,
		Steps:           steps,
	}, nil
}
