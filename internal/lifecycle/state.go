package lifecycle

import "errors"

// State is the collector's position in the pickup flow.
type State string

const (
	Idle           State = "idle"
	EnRouteToPin   State = "en_route_to_pin"
	AtPin          State = "at_pin"
	EnRouteToDepot State = "en_route_to_depot"
	AtDepot        State = "at_depot"
	Completed      State = "completed"
	Cancelled      State = "cancelled"
	Expired        State = "expired"
)

func (s State) Terminal() bool {
	return s == Completed || s == Cancelled || s == Expired
}

// Active is true while a claim is held.
func (s State) Active() bool {
	return s != Idle && !s.Terminal()
}

// expirable states are forced to Expired by the claim timer. AtDepot is not:
// the bottles are already in hand at the depot.
func (s State) expirable() bool {
	return s == EnRouteToPin || s == AtPin || s == EnRouteToDepot
}

func (s State) cancellable() bool {
	return s == EnRouteToPin || s == EnRouteToDepot
}

const (
	PickupRadiusMeters = 50.0
	DepotRadiusMeters  = 100.0
)

var (
	ErrInvalidTransition = errors.New("action not allowed in current state")
	ErrTooFar            = errors.New("not within range of target")
	ErrNoPosition        = errors.New("no position received yet")
	ErrNoDepot           = errors.New("no depot found")
	ErrExpired           = errors.New("claim expired")
	ErrBusy              = errors.New("another action is in progress")
	ErrClosed            = errors.New("session closed")
)
