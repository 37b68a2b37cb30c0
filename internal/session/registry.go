package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/example/bottle-collector/internal/lifecycle"
	"github.com/example/bottle-collector/internal/location"
	"github.com/example/bottle-collector/internal/observability"
)

var ErrNotFound = errors.New("session not found")

// Deps are shared by every session the registry creates.
type Deps struct {
	Routes lifecycle.Router
	Pins   lifecycle.PinService
	Depots lifecycle.DepotFinder
	Sinks  []lifecycle.EventSink
	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Session is one collector device: its position feed and its pickup lifecycle.
type Session struct {
	ID          string
	CollectorID string
	CreatedAt   time.Time
	Feed        *location.Feed
	Lifecycle   *lifecycle.Lifecycle
}

type Registry struct {
	deps Deps

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(deps Deps) *Registry {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Registry{deps: deps, sessions: make(map[string]*Session)}
}

func (r *Registry) Create(collectorID string) *Session {
	id := uuid.NewString()
	feed := location.NewFeed()
	s := &Session{
		ID:          id,
		CollectorID: collectorID,
		CreatedAt:   r.deps.Clock.Now(),
		Feed:        feed,
		Lifecycle: lifecycle.New(lifecycle.Config{
			SessionID:   id,
			CollectorID: collectorID,
			Routes:      r.deps.Routes,
			Pins:        r.deps.Pins,
			Depots:      r.deps.Depots,
			Location:    feed,
			Clock:       r.deps.Clock,
			Sinks:       r.deps.Sinks,
			Logger:      r.deps.Logger,
		}),
	}
	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
	observability.ActiveSessions.Inc()
	r.deps.Logger.Info("session created", "session_id", id, "collector_id", collectorID)
	return s
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Close drops the session and releases its timer and subscriptions.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.Lifecycle.Close()
	observability.ActiveSessions.Dec()
	r.deps.Logger.Info("session closed", "session_id", id, "state", s.Lifecycle.State())
	return nil
}

// Sweep closes sessions in a terminal state that were created more than idle ago.
// It returns the number of sessions removed.
func (r *Registry) Sweep(idle time.Duration) int {
	cutoff := r.deps.Clock.Now().Add(-idle)
	r.mu.RLock()
	var stale []string
	for id, s := range r.sessions {
		if s.Lifecycle.State().Terminal() && !s.CreatedAt.After(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()
	n := 0
	for _, id := range stale {
		if r.Close(id) == nil {
			n++
		}
	}
	return n
}

func (r *Registry) CloseAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		_ = r.Close(id)
	}
}

// ClaimedPins returns the ids of pins held by sessions that are still active.
func (r *Registry) ClaimedPins() map[string]bool {
	r.mu.RLock()
	live := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.mu.RUnlock()
	out := make(map[string]bool)
	for _, s := range live {
		snap := s.Lifecycle.Snapshot()
		if snap.State.Active() && snap.Pin != nil {
			out[snap.Pin.ID] = true
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
