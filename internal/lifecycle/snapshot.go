package lifecycle

import (
	"github.com/example/bottle-collector/internal/geo"
	"github.com/example/bottle-collector/internal/models"
)

// Snapshot is a read-only view for display.
type Snapshot struct {
	SessionID        string                 `json:"session_id"`
	CollectorID      string                 `json:"collector_id,omitempty"`
	State            State                  `json:"state"`
	Pin              *models.Pin            `json:"pin,omitempty"`
	Depot            *models.Place          `json:"depot,omitempty"`
	Mode             models.TravelMode      `json:"mode"`
	Position         *models.Coord          `json:"position,omitempty"`
	Heading          float64                `json:"heading"`
	DistanceMeters   *float64               `json:"distance_m,omitempty"`
	CanConfirm       bool                   `json:"can_confirm"`
	RemainingSeconds int                    `json:"remaining_s"`
	Route            *models.Route          `json:"route,omitempty"`
	RouteStale       bool                   `json:"route_stale"`
	RouteError       string                 `json:"route_error,omitempty"`
	StepIndex        int                    `json:"step_index"`
	CurrentStep      *models.NavigationStep `json:"current_step,omitempty"`
}

func (l *Lifecycle) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := Snapshot{
		SessionID:   l.cfg.SessionID,
		CollectorID: l.cfg.CollectorID,
		State:       l.state,
		Mode:        l.mode,
		Heading:     l.heading,
		Route:       l.route,
		RouteStale:  l.routeStale,
		RouteError:  l.routeErr,
		StepIndex:   l.tracker.Index(),
	}
	if l.state != Idle {
		pin := l.pin
		s.Pin = &pin
	}
	if l.depot != nil {
		d := *l.depot
		s.Depot = &d
	}
	if l.hasPosition {
		p := l.position
		s.Position = &p
	}
	if step, ok := l.tracker.Current(); ok {
		s.CurrentStep = &step
	}
	if l.timer != nil && l.state.expirable() {
		s.RemainingSeconds = l.timer.RemainingSeconds()
	}
	target, ok := l.targetLocked()
	if ok && l.hasPosition {
		d := geo.DistanceMeters(l.position, target)
		s.DistanceMeters = &d
	}
	switch l.state {
	case EnRouteToPin:
		s.CanConfirm = s.DistanceMeters != nil && *s.DistanceMeters <= PickupRadiusMeters && !l.claimLapsedLocked()
	case AtPin:
		s.CanConfirm = !l.busy && !l.claimLapsedLocked()
	case EnRouteToDepot:
		s.CanConfirm = s.DistanceMeters != nil && *s.DistanceMeters <= DepotRadiusMeters && !l.claimLapsedLocked()
	case AtDepot:
		s.CanConfirm = true
	}
	return s
}
