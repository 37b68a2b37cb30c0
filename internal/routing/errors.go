package routing

import (
	"errors"
	"fmt"
)

// ErrRouteUnavailable is wrapped by every failure the client returns. Callers
// treat it as "no route" and keep whatever they were showing.
var ErrRouteUnavailable = errors.New("route unavailable")

var (
	ErrMissingCredential = fmt.Errorf("%w: routing provider credential not configured", ErrRouteUnavailable)
	ErrNoRoute           = fmt.Errorf("%w: no route between origin and destination", ErrRouteUnavailable)
	ErrMalformedPolyline = errors.New("malformed polyline")
)

// StatusError carries a non-OK provider status such as ZERO_RESULTS,
// REQUEST_DENIED or OVER_QUERY_LIMIT.
type StatusError struct {
	Provider string
	Status   string
	Message  string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s status %s: %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s status %s", e.Provider, e.Status)
}

func (e *StatusError) Unwrap() error { return ErrRouteUnavailable }
