package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/bottle-collector/internal/models"
	"github.com/example/bottle-collector/internal/observability"
)

var ErrNoSession = errors.New("no ws session")

const defaultWriteTimeout = 5 * time.Second

// WSSession is the websocket of one connected collector device.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(ctx context.Context, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteTimeout)
	}
	_ = s.conn.SetWriteDeadline(deadline)
	return s.conn.WriteJSON(v)
}

// WSRegistry maps session ids to device websockets. A device may hold one
// connection per session; a reconnect replaces the previous one.
type WSRegistry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSRegistry{logger: logger, sessions: make(map[string]*WSSession)}
}

func (r *WSRegistry) Add(sessionID string, conn *websocket.Conn) {
	r.mu.Lock()
	old := r.sessions[sessionID]
	r.sessions[sessionID] = &WSSession{conn: conn}
	r.mu.Unlock()
	if old != nil {
		_ = old.conn.Close()
	} else {
		observability.WSConnections.Inc()
	}
}

// Remove drops conn if it is still the registered connection for sessionID.
func (r *WSRegistry) Remove(sessionID string, conn *websocket.Conn) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if ok && s.conn == conn {
		delete(r.sessions, sessionID)
	} else {
		ok = false
	}
	r.mu.Unlock()
	if ok {
		observability.WSConnections.Dec()
	}
	_ = conn.Close()
}

func (r *WSRegistry) Connected(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[sessionID]
	return ok
}

// Send writes v to the session's websocket or returns ErrNoSession.
func (r *WSRegistry) Send(ctx context.Context, sessionID string, v any) error {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(ctx, v); err != nil {
		r.logger.Warn("ws send failed", "session_id", sessionID, "error", err)
		return err
	}
	return nil
}

// Publish pushes a lifecycle event to the device. A disconnected device is
// not an error; it picks up the current state on reconnect.
func (r *WSRegistry) Publish(ctx context.Context, e models.Event) error {
	err := r.Send(ctx, e.SessionID, e)
	switch {
	case errors.Is(err, ErrNoSession):
		observability.EventsPublished.WithLabelValues("ws", "no_session").Inc()
		return nil
	case err != nil:
		observability.EventsPublished.WithLabelValues("ws", "error").Inc()
		return err
	}
	observability.EventsPublished.WithLabelValues("ws", "ok").Inc()
	return nil
}
