package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/bottle-collector/internal/backend"
	"github.com/example/bottle-collector/internal/dispatch"
	"github.com/example/bottle-collector/internal/geo"
	"github.com/example/bottle-collector/internal/models"
	"github.com/example/bottle-collector/internal/routing"
	"github.com/example/bottle-collector/internal/session"
)

const (
	defaultPinRadiusMeters = 2000
	maxPinRadiusMeters     = 50000
	defaultPinLimit        = 200
)

// PinLister is the backend listing of active submissions.
type PinLister interface {
	ActiveLocations(ctx context.Context) ([]backend.Location, error)
}

type Options struct {
	Sessions *session.Registry
	WSReg    *dispatch.WSRegistry
	Index    geo.PinIndex
	Pins     PinLister
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

type Server struct {
	Sessions *session.Registry
	WSReg    *dispatch.WSRegistry
	Index    geo.PinIndex
	Pins     PinLister
	clock    clockwork.Clock
	logger   *slog.Logger
	mux      *mux.Router
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Index == nil {
		opts.Index = geo.NewIndex()
	}
	if opts.WSReg == nil {
		opts.WSReg = dispatch.NewWSRegistry(opts.Logger)
	}
	s := &Server{
		Sessions: opts.Sessions,
		WSReg:    opts.WSReg,
		Index:    opts.Index,
		Pins:     opts.Pins,
		clock:    opts.Clock,
		logger:   opts.Logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/accept", s.handleAccept).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/position", s.handlePosition).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/heading", s.handleHeading).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/permission", s.handlePermission).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/confirm", s.handleConfirm).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/mode", s.handleMode).Methods(http.MethodPut)
	api.HandleFunc("/sessions/{id}/route/refresh", s.handleRefreshRoute).Methods(http.MethodPost)
	api.HandleFunc("/pins", s.handlePins).Methods(http.MethodGet)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{session_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.Sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CollectorID string `json:"collector_id"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
	}
	sess := s.Sessions.Create(req.CollectorID)
	writeJSON(w, http.StatusCreated, sess.Lifecycle.Snapshot())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Lifecycle.Snapshot())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.Sessions.Close(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Pin  models.Pin `json:"pin"`
		Mode string     `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.Pin.ID == "" {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "pin.id is required")
		return
	}
	mode, err := models.ParseTravelMode(req.Mode)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if s.Sessions.ClaimedPins()[req.Pin.ID] {
		writeJSONError(w, http.StatusConflict, "pin_claimed", "pin is already claimed")
		return
	}
	if err := sess.Lifecycle.Accept(r.Context(), req.Pin, mode); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Lifecycle.Snapshot())
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var c models.Coord
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := sess.Feed.PublishPosition(c); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Lifecycle.Snapshot())
}

func (s *Server) handleHeading(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Heading float64 `json:"heading"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	sess.Feed.PublishHeading(req.Heading)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePermission(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Granted bool `json:"granted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	sess.Feed.SetPermission(req.Granted)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Lifecycle.Confirm(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Lifecycle.Snapshot())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Lifecycle.Cancel(); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Lifecycle.Snapshot())
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	mode, err := models.ParseTravelMode(req.Mode)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	// a failed route fetch still switches the mode; the snapshot carries the error
	if err := sess.Lifecycle.SetTravelMode(r.Context(), mode); err != nil && !errors.Is(err, routing.ErrRouteUnavailable) {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Lifecycle.Snapshot())
}

func (s *Server) handleRefreshRoute(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Lifecycle.RefreshRoute(r.Context()); err != nil && !errors.Is(err, routing.ErrRouteUnavailable) {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Lifecycle.Snapshot())
}

// handlePins lists available pins around lat/lng, spread apart so that
// stacked markers stay tappable. A successful backend listing replaces the
// index contents; on failure the index is served as is.
func (s *Server) handlePins(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	if errLat != nil || errLng != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "lat and lng are required")
		return
	}
	radius := float64(defaultPinRadiusMeters)
	if v := q.Get("radius"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 || f > maxPinRadiusMeters {
			writeJSONError(w, http.StatusBadRequest, "bad_request", "radius must be in (0, 50000]")
			return
		}
		radius = f
	}

	if s.Pins != nil {
		locs, err := s.Pins.ActiveLocations(r.Context())
		if err != nil {
			s.logger.Warn("backend listing failed, serving index", "error", err)
		} else {
			claimed := s.Sessions.ClaimedPins()
			listed := backend.PinsFromLocations(locs, s.clock.Now())
			avail := listed[:0]
			for _, p := range listed {
				if !claimed[p.ID] {
					avail = append(avail, p)
				}
			}
			if dropped := s.Index.Sync(avail); dropped > 0 {
				s.logger.Debug("pins no longer listed dropped from index", "count", dropped)
			}
		}
	}

	pins := geo.Separate(s.Index.Nearby(models.Coord{Lat: lat, Lng: lng}, radius, defaultPinLimit))
	writeJSON(w, http.StatusOK, map[string]any{"count": len(pins), "pins": pins})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleWS holds the device socket open until the client goes away. The
// current snapshot is sent first so a reconnecting device catches up.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["session_id"]
	sess, err := s.Sessions.Get(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "session_id", id, "error", err)
		return
	}
	s.WSReg.Add(id, conn)
	defer s.WSReg.Remove(id, conn)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	err = s.WSReg.Send(ctx, id, map[string]any{"type": "snapshot", "snapshot": sess.Lifecycle.Snapshot()})
	cancel()
	if err != nil {
		return
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}
