package httpapi

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/example/bottle-collector/internal/observability"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	sessionIDKey
)

func (s *Server) registerMiddleware() {
	s.mux.Use(s.recoverMiddleware)
	s.mux.Use(s.tagMiddleware)
	s.mux.Use(s.accessLogMiddleware)
}

// tagMiddleware stamps the request with a request id, echoed back to the
// device, and the session id when the route carries one.
func (s *Server) tagMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		if sid := routeSessionID(r); sid != "" {
			ctx = context.WithValue(ctx, sessionIDKey, sid)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// accessLogMiddleware labels metrics by route template only; session ids go
// to the log line.
func (s *Server) accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		route := routeTemplate(r)
		code := strconv.Itoa(rec.status)
		observability.HTTPRequestsTotal.WithLabelValues(r.Method, route, code).Inc()
		observability.HTTPRequestDuration.WithLabelValues(r.Method, route, code).Observe(elapsed.Seconds())

		level := s.logger.Info
		if rec.status >= http.StatusInternalServerError {
			level = s.logger.Warn
		}
		args := append(requestAttrs(r.Context()),
			"method", r.Method,
			"route", route,
			"status", rec.status,
			"duration_ms", elapsed.Milliseconds(),
			"remote_addr", clientIP(r),
		)
		if rec.status == http.StatusSwitchingProtocols {
			args = append(args, "upgraded", true)
		}
		level("http_request", args...)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.logger.Error("handler panic", append(requestAttrs(r.Context()), "path", r.URL.Path, "panic", v)...)
				writeJSONError(w, http.StatusInternalServerError, "internal", "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusRecorder keeps the status for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade through the wrapper.
func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// routeSessionID reads the session id from /sessions/{id}/... and /ws/{session_id}.
func routeSessionID(r *http.Request) string {
	vars := mux.Vars(r)
	if sid := vars["session_id"]; sid != "" {
		return sid
	}
	if strings.Contains(routeTemplate(r), "/sessions/{id}") {
		return vars["id"]
	}
	return ""
}

func requestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

func sessionIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(sessionIDKey).(string)
	return v
}

// requestAttrs returns the slog key/value pairs identifying the request.
func requestAttrs(ctx context.Context) []any {
	var args []any
	if rid := requestIDFromContext(ctx); rid != "" {
		args = append(args, "request_id", rid)
	}
	if sid := sessionIDFromContext(ctx); sid != "" {
		args = append(args, "session_id", sid)
	}
	return args
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
