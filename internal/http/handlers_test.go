package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/bottle-collector/internal/backend"
	"github.com/example/bottle-collector/internal/dispatch"
	"github.com/example/bottle-collector/internal/geo"
	"github.com/example/bottle-collector/internal/lifecycle"
	"github.com/example/bottle-collector/internal/models"
	"github.com/example/bottle-collector/internal/session"
)

var (
	here   = models.Coord{Lat: 51.0447, Lng: -114.0719}
	nearby = models.Coord{Lat: 51.0449, Lng: -114.0719} // ~22 m
)

type stubRouter struct{}

func (stubRouter) GetRoute(ctx context.Context, origin, destination models.Coord, mode models.TravelMode) (models.Route, error) {
	return models.Route{
		DistanceMeters: geo.DistanceMeters(origin, destination),
		Polyline:       []models.Coord{origin, destination},
		Steps:          []models.NavigationStep{{Instruction: "Head north", Start: origin, End: destination}},
	}, nil
}

type stubPins struct{}

func (stubPins) MarkComplete(ctx context.Context, submissionID string) error { return nil }

type stubDepots struct{}

// NearestDepot puts the depot where the collector stands.
func (stubDepots) NearestDepot(ctx context.Context, near models.Coord) (models.Place, error) {
	return models.Place{ExternalID: "depot", Name: "Depot", Location: near}, nil
}

type stubLister struct{ locs []backend.Location }

func (s stubLister) ActiveLocations(ctx context.Context) ([]backend.Location, error) {
	return s.locs, nil
}

type testEnv struct {
	srv      *Server
	sessions *session.Registry
}

func newEnv(t *testing.T, lister PinLister) *testEnv {
	t.Helper()
	ws := dispatch.NewWSRegistry(nil)
	reg := session.NewRegistry(session.Deps{
		Routes: stubRouter{},
		Pins:   stubPins{},
		Depots: stubDepots{},
		Sinks:  []lifecycle.EventSink{ws},
		Clock:  clockwork.NewFakeClock(),
	})
	t.Cleanup(reg.CloseAll)
	srv := NewServer(Options{Sessions: reg, WSReg: ws, Pins: lister})
	return &testEnv{srv: srv, sessions: reg}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	e.srv.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) create(t *testing.T) string {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/v1/sessions", map[string]string{"collector_id": "c1"})
	require.Equal(t, http.StatusCreated, rr.Code)
	var snap lifecycle.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	require.NotEmpty(t, snap.SessionID)
	assert.Equal(t, lifecycle.Idle, snap.State)
	return snap.SessionID
}

func decodeSnapshot(t *testing.T, rr *httptest.ResponseRecorder) lifecycle.Snapshot {
	t.Helper()
	var snap lifecycle.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap), rr.Body.String())
	return snap
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body["code"]
}

func TestPickupFlowOverHTTP(t *testing.T) {
	env := newEnv(t, nil)
	id := env.create(t)
	base := "/api/v1/sessions/" + id

	rr := env.do(t, http.MethodPost, base+"/position", here)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodPost, base+"/accept", map[string]any{
		"pin":  models.Pin{ID: "p1", SubmissionID: "s1", Location: nearby},
		"mode": "walking",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	snap := decodeSnapshot(t, rr)
	assert.Equal(t, lifecycle.EnRouteToPin, snap.State)
	assert.Equal(t, 1800, snap.RemainingSeconds)
	assert.True(t, snap.CanConfirm)

	want := []lifecycle.State{lifecycle.AtPin, lifecycle.EnRouteToDepot, lifecycle.AtDepot, lifecycle.Completed}
	for _, st := range want {
		rr = env.do(t, http.MethodPost, base+"/confirm", nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, st, decodeSnapshot(t, rr).State)
	}

	rr = env.do(t, http.MethodPost, base+"/confirm", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "invalid_transition", errorCode(t, rr))

	rr = env.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = env.do(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestConfirmTooFarIsUnprocessable(t *testing.T) {
	env := newEnv(t, nil)
	id := env.create(t)
	base := "/api/v1/sessions/" + id
	env.do(t, http.MethodPost, base+"/position", here)
	far := models.Coord{Lat: here.Lat + 0.002, Lng: here.Lng}
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, base+"/accept", map[string]any{"pin": models.Pin{ID: "p1", Location: far}}).Code)

	rr := env.do(t, http.MethodPost, base+"/confirm", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "too_far", errorCode(t, rr))
}

func TestAcceptWithoutPermission(t *testing.T) {
	env := newEnv(t, nil)
	id := env.create(t)
	base := "/api/v1/sessions/" + id
	env.do(t, http.MethodPost, base+"/position", here)
	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodPost, base+"/permission", map[string]bool{"granted": false}).Code)

	rr := env.do(t, http.MethodPost, base+"/accept", map[string]any{"pin": models.Pin{ID: "p1", Location: nearby}})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "location_permission_denied", errorCode(t, rr))
}

func TestAcceptRejectsPinHeldByAnotherSession(t *testing.T) {
	env := newEnv(t, nil)
	pin := map[string]any{"pin": models.Pin{ID: "p1", Location: nearby}}
	for i, want := range []int{http.StatusOK, http.StatusConflict} {
		id := env.create(t)
		base := "/api/v1/sessions/" + id
		env.do(t, http.MethodPost, base+"/position", here)
		rr := env.do(t, http.MethodPost, base+"/accept", pin)
		assert.Equal(t, want, rr.Code, "session %d", i)
	}
}

func TestModeAndValidation(t *testing.T) {
	env := newEnv(t, nil)
	id := env.create(t)
	base := "/api/v1/sessions/" + id

	rr := env.do(t, http.MethodPut, base+"/mode", map[string]string{"mode": "walking"})
	assert.Equal(t, http.StatusConflict, rr.Code, "no active claim yet")

	env.do(t, http.MethodPost, base+"/position", here)
	env.do(t, http.MethodPost, base+"/accept", map[string]any{"pin": models.Pin{ID: "p1", Location: nearby}})

	rr = env.do(t, http.MethodPut, base+"/mode", map[string]string{"mode": "teleport"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPut, base+"/mode", map[string]string{"mode": "bicycling"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, models.Bicycling, decodeSnapshot(t, rr).Mode)

	rr = env.do(t, http.MethodPost, base+"/route/refresh", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodPost, base+"/heading", map[string]float64{"heading": 90})
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = env.do(t, http.MethodGet, base, nil)
	assert.Equal(t, 90.0, decodeSnapshot(t, rr).Heading)

	rr = env.do(t, http.MethodPost, base+"/cancel", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, lifecycle.Cancelled, decodeSnapshot(t, rr).State)
}

func TestPinsAreFilteredAndSeparated(t *testing.T) {
	lister := stubLister{locs: []backend.Location{
		{Lat: 51.0450, Lng: -114.0720, SubmissionID: "a"},
		{Lat: 51.0450, Lng: -114.0720, SubmissionID: "b"},
		{Lat: 52.0, Lng: -113.0, SubmissionID: "far"},
	}}
	env := newEnv(t, lister)

	rr := env.do(t, http.MethodGet, "/api/v1/pins?lat=51.0447&lng=-114.0719&radius=500", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Count int          `json:"count"`
		Pins  []models.Pin `json:"pins"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)
	assert.NotEqual(t, body.Pins[0].Location, body.Pins[1].Location, "stacked pins are spread apart")

	rr = env.do(t, http.MethodGet, "/api/v1/pins?lat=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = env.do(t, http.MethodGet, "/api/v1/pins?lat=1&lng=2&radius=-3", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestClaimedPinsAreHiddenFromListing(t *testing.T) {
	lister := stubLister{locs: []backend.Location{{Lat: nearby.Lat, Lng: nearby.Lng, SubmissionID: "p1"}}}
	env := newEnv(t, lister)
	id := env.create(t)
	base := "/api/v1/sessions/" + id
	env.do(t, http.MethodPost, base+"/position", here)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, base+"/accept", map[string]any{"pin": models.Pin{ID: "p1", SubmissionID: "p1", Location: nearby}}).Code)

	rr := env.do(t, http.MethodGet, "/api/v1/pins?lat=51.0447&lng=-114.0719", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"count":0`)
}

// listing is a backend whose active locations change between calls.
type listing struct{ locs []backend.Location }

func (l *listing) ActiveLocations(ctx context.Context) ([]backend.Location, error) {
	return l.locs, nil
}

type pinsBody struct {
	Count int          `json:"count"`
	Pins  []models.Pin `json:"pins"`
}

func (e *testEnv) pins(t *testing.T) pinsBody {
	t.Helper()
	rr := e.do(t, http.MethodGet, "/api/v1/pins?lat=51.0447&lng=-114.0719", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var body pinsBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestRepeatedListingDoesNotDuplicatePins(t *testing.T) {
	env := newEnv(t, stubLister{locs: []backend.Location{{Lat: 51.0447, Lng: -114.0719}}})

	first := env.pins(t)
	require.Equal(t, 1, first.Count)
	for i := 0; i < 3; i++ {
		again := env.pins(t)
		require.Equal(t, 1, again.Count, "listing %d", i+2)
		assert.Equal(t, first.Pins[0].ID, again.Pins[0].ID)
		assert.Equal(t, first.Pins[0].Location, again.Pins[0].Location)
	}
}

func TestPinsDroppedFromBackendLeaveListing(t *testing.T) {
	backendPins := &listing{locs: []backend.Location{
		{Lat: 51.0450, Lng: -114.0719, SubmissionID: "a"},
		{Lat: 51.0460, Lng: -114.0719, SubmissionID: "b"},
	}}
	env := newEnv(t, backendPins)
	require.Equal(t, 2, env.pins(t).Count)

	backendPins.locs = backendPins.locs[1:]
	got := env.pins(t)
	require.Equal(t, 1, got.Count)
	assert.Equal(t, "b", got.Pins[0].ID)
}

func TestAccessLogCarriesSessionID(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	reg := session.NewRegistry(session.Deps{Routes: stubRouter{}, Pins: stubPins{}, Depots: stubDepots{}, Clock: clockwork.NewFakeClock(), Logger: logger})
	t.Cleanup(reg.CloseAll)
	env := &testEnv{srv: NewServer(Options{Sessions: reg, Logger: logger}), sessions: reg}

	id := env.create(t)
	logs.Reset()
	env.do(t, http.MethodGet, "/api/v1/sessions/"+id, nil)
	assert.Contains(t, logs.String(), `"session_id":"`+id+`"`)
	assert.Contains(t, logs.String(), `"route":"/api/v1/sessions/{id}"`)

	logs.Reset()
	rr := env.do(t, http.MethodGet, "/api/v1/sessions/missing", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, logs.String(), `"session_id":"missing"`)

	logs.Reset()
	env.do(t, http.MethodGet, "/healthz", nil)
	assert.NotContains(t, logs.String(), "session_id")
}

func TestRequestIDIsEchoed(t *testing.T) {
	env := newEnv(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc")
	rr := httptest.NewRecorder()
	env.srv.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "abc", rr.Header().Get("X-Request-ID"))
}

func TestWebsocketReceivesSnapshotAndEvents(t *testing.T) {
	env := newEnv(t, nil)
	ts := httptest.NewServer(env.srv)
	defer ts.Close()
	id := env.create(t)

	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/"+id, nil)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))

	var first struct {
		Type     string             `json:"type"`
		Snapshot lifecycle.Snapshot `json:"snapshot"`
	}
	require.NoError(t, c.ReadJSON(&first))
	assert.Equal(t, "snapshot", first.Type)
	assert.Equal(t, id, first.Snapshot.SessionID)

	base := "/api/v1/sessions/" + id
	env.do(t, http.MethodPost, base+"/position", here)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, base+"/accept", map[string]any{"pin": models.Pin{ID: "p1", Location: nearby}}).Code)

	var e models.Event
	require.NoError(t, c.ReadJSON(&e))
	assert.Equal(t, models.EventAccepted, e.Type)
	assert.Equal(t, "p1", e.PinID)
}

func TestWebsocketUnknownSession(t *testing.T) {
	env := newEnv(t, nil)
	rr := env.do(t, http.MethodGet, "/ws/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
