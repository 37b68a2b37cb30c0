package places

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/example/bottle-collector/internal/models"
)

const (
	nearbySearchURL = "https://maps.googleapis.com/maps/api/place/nearbysearch/json"
	DefaultKeyword  = "bottle depot"
)

var (
	ErrNotFound          = errors.New("no depot found nearby")
	ErrMissingCredential = errors.New("places api key not configured")
)

// GoogleClient finds depots with the Places Nearby Search API.
type GoogleClient struct {
	APIKey   string
	Keyword  string
	Endpoint string
	Client   *http.Client
}

func NewGoogleClient(apiKey, keyword string, timeout time.Duration) *GoogleClient {
	if keyword == "" {
		keyword = DefaultKeyword
	}
	return &GoogleClient{APIKey: apiKey, Keyword: keyword, Endpoint: nearbySearchURL, Client: &http.Client{Timeout: timeout}}
}

type nearbyResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		PlaceID  string `json:"place_id"`
		Name     string `json:"name"`
		Vicinity string `json:"vicinity"`
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// NearestDepot returns the closest match for the configured keyword.
func (g *GoogleClient) NearestDepot(ctx context.Context, near models.Coord) (models.Place, error) {
	if g.APIKey == "" {
		return models.Place{}, ErrMissingCredential
	}
	keyword := g.Keyword
	if keyword == "" {
		keyword = DefaultKeyword
	}
	q := url.Values{}
	q.Set("location", strconv.FormatFloat(near.Lat, 'f', -1, 64)+","+strconv.FormatFloat(near.Lng, 'f', -1, 64))
	q.Set("rankby", "distance")
	q.Set("keyword", keyword)
	q.Set("key", g.APIKey)
	endpoint := g.Endpoint
	if endpoint == "" {
		endpoint = nearbySearchURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return models.Place{}, fmt.Errorf("places nearby: %w", err)
	}
	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return models.Place{}, fmt.Errorf("places nearby: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.Place{}, fmt.Errorf("places nearby: http status %d", resp.StatusCode)
	}
	var out nearbyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.Place{}, fmt.Errorf("places nearby decode: %w", err)
	}
	switch out.Status {
	case "OK":
	case "ZERO_RESULTS":
		return models.Place{}, ErrNotFound
	default:
		return models.Place{}, fmt.Errorf("places nearby: status %s: %s", out.Status, out.ErrorMessage)
	}
	if len(out.Results) == 0 {
		return models.Place{}, ErrNotFound
	}
	r := out.Results[0]
	return models.Place{
		ExternalID: r.PlaceID,
		Name:       r.Name,
		Address:    r.Vicinity,
		Location:   models.Coord{Lat: r.Geometry.Location.Lat, Lng: r.Geometry.Location.Lng},
	}, nil
}
