package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/example/bottle-collector/internal/lifecycle"
	"github.com/example/bottle-collector/internal/location"
	"github.com/example/bottle-collector/internal/routing"
	"github.com/example/bottle-collector/internal/session"
)

// errorStatus maps domain errors to an HTTP status and a stable code for clients.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, lifecycle.ErrClosed):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, lifecycle.ErrExpired):
		return http.StatusConflict, "claim_expired"
	case errors.Is(err, lifecycle.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, lifecycle.ErrTooFar):
		return http.StatusUnprocessableEntity, "too_far"
	case errors.Is(err, lifecycle.ErrNoPosition), errors.Is(err, location.ErrNoFix):
		return http.StatusUnprocessableEntity, "no_position"
	case errors.Is(err, lifecycle.ErrNoDepot):
		return http.StatusUnprocessableEntity, "no_depot"
	case errors.Is(err, location.ErrPermissionDenied):
		return http.StatusForbidden, "location_permission_denied"
	case errors.Is(err, routing.ErrRouteUnavailable):
		return http.StatusBadGateway, "route_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusInternalServerError, "internal"
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", append(requestAttrs(r.Context()), "path", r.URL.Path, "error", err)...)
	}
	writeJSONError(w, status, code, err.Error())
}
