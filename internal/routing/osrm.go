package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/example/bottle-collector/internal/models"
)

// OSRMProvider performs route lookups against an OSRM HTTP server.
type OSRMProvider struct {
	Endpoint string
	Client   *http.Client
}

func NewOSRMProvider(endpoint string, timeout time.Duration) *OSRMProvider {
	return &OSRMProvider{Endpoint: strings.TrimRight(endpoint, "/"), Client: &http.Client{Timeout: timeout}}
}

var osrmProfiles = map[models.TravelMode]string{
	models.Driving:   "driving",
	models.Walking:   "foot",
	models.Bicycling: "bike",
}

type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Geometry string  `json:"geometry"`
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Legs     []struct {
			Steps []osrmStep `json:"steps"`
		} `json:"legs"`
	} `json:"routes"`
}

type osrmStep struct {
	Distance float64 `json:"distance"`
	Duration float64 `json:"duration"`
	Name     string  `json:"name"`
	Geometry string  `json:"geometry"`
	Maneuver struct {
		Type     string     `json:"type"`
		Modifier string     `json:"modifier"`
		Location [2]float64 `json:"location"`
	} `json:"maneuver"`
}

func (o *OSRMProvider) Directions(ctx context.Context, origin, destination models.Coord, mode models.TravelMode) (models.Route, error) {
	if o.Endpoint == "" {
		return models.Route{}, ErrMissingCredential
	}
	profile, ok := osrmProfiles[mode]
	if !ok {
		profile = "driving"
	}
	// OSRM wants lon,lat pairs
	url := fmt.Sprintf("%s/route/v1/%s/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=polyline&steps=true",
		o.Endpoint, profile, origin.Lng, origin.Lat, destination.Lng, destination.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.Route{}, fmt.Errorf("%w: osrm: %w", ErrRouteUnavailable, err)
	}
	client := o.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return models.Route{}, fmt.Errorf("%w: osrm: %w", ErrRouteUnavailable, err)
	}
	defer resp.Body.Close()
	var out osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.Route{}, fmt.Errorf("%w: osrm decode (http %d): %w", ErrRouteUnavailable, resp.StatusCode, err)
	}
	if out.Code != "Ok" {
		return models.Route{}, &StatusError{Provider: "osrm", Status: out.Code, Message: out.Message}
	}
	if len(out.Routes) == 0 {
		return models.Route{}, ErrNoRoute
	}
	route := out.Routes[0]
	points, err := DecodePolyline(route.Geometry)
	if err != nil {
		return models.Route{}, fmt.Errorf("%w: osrm geometry: %w", ErrRouteUnavailable, err)
	}
	var steps []models.NavigationStep
	for _, leg := range route.Legs {
		for _, s := range leg.Steps {
			steps = append(steps, osrmToStep(s))
		}
	}
	return models.Route{
		DistanceMeters:  route.Distance,
		DurationMinutes: route.Duration / 60,
		Polyline:        points,
		Steps:           steps,
	}, nil
}

func osrmToStep(s osrmStep) models.NavigationStep {
	start := models.Coord{Lat: s.Maneuver.Location[1], Lng: s.Maneuver.Location[0]}
	end := start
	if pts, err := DecodePolyline(s.Geometry); err == nil && len(pts) > 0 {
		end = pts[len(pts)-1]
	}
	maneuver := s.Maneuver.Type
	if s.Maneuver.Modifier != "" {
		maneuver += "-" + strings.ReplaceAll(s.Maneuver.Modifier, " ", "-")
	}
	return models.NavigationStep{
		Instruction:     osrmInstruction(s.Maneuver.Type, s.Maneuver.Modifier, s.Name),
		DistanceMeters:  s.Distance,
		DurationSeconds: s.Duration,
		Start:           start,
		End:             end,
		Maneuver:        maneuver,
	}
}

// osrmInstruction builds a short sentence since OSRM does not send text.
func osrmInstruction(typ, modifier, name string) string {
	var b strings.Builder
	switch typ {
	case "depart":
		b.WriteString("Head")
		if modifier != "" {
			b.WriteString(" " + modifier)
		}
	case "arrive":
		return "Arrive at destination"
	case "":
		b.WriteString("Continue")
	default:
		b.WriteString(strings.ToUpper(typ[:1]) + typ[1:])
		if modifier != "" {
			b.WriteString(" " + modifier)
		}
	}
	if name != "" {
		b.WriteString(" onto " + name)
	}
	return b.String()
}
