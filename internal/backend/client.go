package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/bottle-collector/internal/models"
)

// ErrNotJSON is returned when the backend answers with something other than JSON,
// usually an HTML error page from a proxy.
var ErrNotJSON = errors.New("backend returned non-JSON response")

// APIError carries the backend's {"error": ...} body.
type APIError struct {
	Endpoint string
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend %s: http status %d", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("backend %s: http status %d: %s", e.Endpoint, e.Status, e.Message)
}

// Location is one active submission as listed by the backend.
type Location struct {
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	SubmissionID string  `json:"submission_id,omitempty"`
}

type S3Info struct {
	Message      string `json:"message"`
	SubmissionID string `json:"submission_id"`
	S3Key        string `json:"s3_key"`
	Location     string `json:"location"`
	UserID       int64  `json:"user_id"`
}

// Client talks to the pin backend.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: &http.Client{Timeout: timeout}}
}

// ActiveLocations lists the submissions that still have bottles to collect.
func (c *Client) ActiveLocations(ctx context.Context) ([]Location, error) {
	var out struct {
		Message   string     `json:"message"`
		Count     int        `json:"count"`
		Locations []Location `json:"locations"`
	}
	if err := c.post(ctx, "/locations", nil, &out); err != nil {
		return nil, err
	}
	return out.Locations, nil
}

func (c *Client) S3Info(ctx context.Context, submissionID string) (S3Info, error) {
	var out S3Info
	err := c.post(ctx, "/s3info", map[string]any{"submission_id": submissionID}, &out)
	return out, err
}

// MarkComplete flags the submission inactive so other collectors stop seeing it.
func (c *Client) MarkComplete(ctx context.Context, submissionID string) error {
	body := map[string]any{"submission_id": submissionID, "is_active": false}
	return c.post(ctx, "/set_active_status", body, nil)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend %s: encode: %w", path, err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, r)
	if err != nil {
		return fmt.Errorf("backend %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("backend %s: %w", path, err)
	}
	defer resp.Body.Close()

	mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mt != "application/json" {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w (%s, status %d): %s", ErrNotJSON, path, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{Endpoint: path, Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend %s: decode: %w", path, err)
	}
	return nil
}

// pinNamespace seeds the ids of records that carry no submission id.
var pinNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:bottle-collector:location"))

// LocationPinID names a record without a submission id by its position, so
// repeated listings map the same spot to the same pin.
func LocationPinID(lat, lng float64) string {
	return uuid.NewSHA1(pinNamespace, []byte(fmt.Sprintf("%.6f,%.6f", lat, lng))).String()
}

// PinsFromLocations turns backend records into available pins. Records
// without a submission id are keyed by position and cannot be marked
// complete. Duplicate ids keep the first record.
func PinsFromLocations(locs []Location, now time.Time) []models.Pin {
	pins := make([]models.Pin, 0, len(locs))
	seen := make(map[string]bool, len(locs))
	for _, l := range locs {
		id := l.SubmissionID
		if id == "" {
			id = LocationPinID(l.Lat, l.Lng)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		pins = append(pins, models.Pin{
			ID:           id,
			SubmissionID: l.SubmissionID,
			Location:     models.Coord{Lat: l.Lat, Lng: l.Lng},
			Status:       models.PinAvailable,
			CreatedAt:    now,
		})
	}
	return pins
}
