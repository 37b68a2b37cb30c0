package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/example/bottle-collector/internal/claim"
	"github.com/example/bottle-collector/internal/geo"
	"github.com/example/bottle-collector/internal/location"
	"github.com/example/bottle-collector/internal/models"
	"github.com/example/bottle-collector/internal/navigation"
	"github.com/example/bottle-collector/internal/observability"
)

// Router is the route client.
type Router interface {
	GetRoute(ctx context.Context, origin, destination models.Coord, mode models.TravelMode) (models.Route, error)
}

// PinService is the backend call made when a pickup is confirmed.
type PinService interface {
	MarkComplete(ctx context.Context, submissionID string) error
}

// DepotFinder resolves the drop-off depot once per pickup.
type DepotFinder interface {
	NearestDepot(ctx context.Context, near models.Coord) (models.Place, error)
}

// EventSink receives lifecycle events after the state change is committed.
type EventSink interface {
	Publish(ctx context.Context, e models.Event) error
}

type Config struct {
	SessionID   string
	CollectorID string
	Routes      Router
	Pins        PinService
	Depots      DepotFinder
	Location    location.Provider
	Clock       clockwork.Clock
	Sinks       []EventSink
	Logger      *slog.Logger
	// SinkTimeout bounds each sink publish. Defaults to 2s.
	SinkTimeout time.Duration
}

// Lifecycle drives one collector through claim, pickup and drop-off.
//
// Position and heading updates, claim timer ticks and user actions may
// arrive on different goroutines; all state lives behind mu. No I/O runs
// while mu is held. Actions that do I/O re-validate the state before
// committing, so a claim expiry that lands during the I/O voids the action.
type Lifecycle struct {
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	closed      bool
	busy        bool
	pin         models.Pin
	depot       *models.Place
	mode        models.TravelMode
	position    models.Coord
	hasPosition bool
	heading     float64
	route       *models.Route
	routeStale  bool
	routeErr    string
	routeGen    int
	tracker     *navigation.Tracker
	timer       *claim.Timer
	posSub      location.Subscription
	headSub     location.Subscription
}

func New(cfg Config) *Lifecycle {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 2 * time.Second
	}
	return &Lifecycle{
		cfg:     cfg,
		logger:  cfg.Logger.With("session_id", cfg.SessionID),
		state:   Idle,
		mode:    models.Driving,
		tracker: navigation.NewTracker(nil),
	}
}

// resources detached under the lock and released after it is dropped;
// Timer.Stop waits for a tick callback that may itself be waiting on mu.
type teardown struct {
	timer   *claim.Timer
	posSub  location.Subscription
	headSub location.Subscription
}

func (t teardown) run() {
	if t.posSub != nil {
		t.posSub.Remove()
	}
	if t.headSub != nil {
		t.headSub.Remove()
	}
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (l *Lifecycle) detachLocked() teardown {
	td := teardown{timer: l.timer, posSub: l.posSub, headSub: l.headSub}
	l.timer, l.posSub, l.headSub = nil, nil, nil
	return td
}

// Accept claims pin and starts navigating to it. A failure to read the
// current position (for example permission denied) leaves the session Idle.
// A routing failure does not: the route can be refreshed later.
func (l *Lifecycle) Accept(ctx context.Context, pin models.Pin, mode models.TravelMode) error {
	if mode == "" {
		mode = models.Driving
	}
	l.mu.Lock()
	if err := l.beginLocked(Idle); err != nil {
		l.mu.Unlock()
		return err
	}
	l.mu.Unlock()
	defer l.endBusy()

	pos, err := l.cfg.Location.CurrentPosition(ctx)
	if err != nil {
		return fmt.Errorf("current position: %w", err)
	}
	route, routeErr := l.cfg.Routes.GetRoute(ctx, pos, pin.Location, mode)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	expiry := l.cfg.Clock.Now().Add(claim.ClaimDuration)
	pin.Status = models.PinClaimed
	pin.ClaimExpiry = &expiry
	l.pin = pin
	l.mode = mode
	l.position = pos
	l.hasPosition = true
	l.depot = nil
	l.setStateLocked(EnRouteToPin)
	events := []models.Event{l.eventLocked(models.EventAccepted)}
	events = append(events, l.applyRouteLocked(route, routeErr)...)
	l.timer = claim.Start(l.cfg.Clock, expiry, l.onExpire, claim.WithTick(l.onTick))
	l.posSub = l.cfg.Location.WatchPosition(l.onPosition)
	l.headSub = l.cfg.Location.WatchHeading(l.onHeading)
	l.mu.Unlock()

	l.logger.Info("pin claimed", "pin_id", pin.ID, "expires_at", expiry, "mode", mode)
	l.emit(events...)
	return nil
}

// ConfirmArrival moves EnRouteToPin to AtPin once within PickupRadiusMeters.
func (l *Lifecycle) ConfirmArrival(ctx context.Context) error {
	return l.confirmProximity(EnRouteToPin, AtPin, PickupRadiusMeters)
}

// ConfirmDepotArrival moves EnRouteToDepot to AtDepot once within DepotRadiusMeters.
func (l *Lifecycle) ConfirmDepotArrival(ctx context.Context) error {
	return l.confirmProximity(EnRouteToDepot, AtDepot, DepotRadiusMeters)
}

func (l *Lifecycle) confirmProximity(from, to State, radius float64) error {
	l.mu.Lock()
	if err := l.guardLocked(from); err != nil {
		td, events := l.expireIfDueLocked(err)
		l.mu.Unlock()
		td.run()
		l.emit(events...)
		return err
	}
	if !l.hasPosition {
		l.mu.Unlock()
		observability.ConfirmRejections.WithLabelValues("no_position").Inc()
		return ErrNoPosition
	}
	target, _ := l.targetLocked()
	if d := geo.DistanceMeters(l.position, target); d > radius {
		l.mu.Unlock()
		observability.ConfirmRejections.WithLabelValues("too_far").Inc()
		return fmt.Errorf("%w: %.0fm away, need %.0fm", ErrTooFar, d, radius)
	}
	l.setStateLocked(to)
	events := []models.Event{l.eventLocked(models.EventTransition)}
	l.mu.Unlock()
	l.emit(events...)
	return nil
}

// ConfirmPickup resolves the depot, tells the backend the pin is collected
// and starts navigating to the depot. No depot leaves the session AtPin. A
// backend failure is logged and the flow continues.
func (l *Lifecycle) ConfirmPickup(ctx context.Context) error {
	l.mu.Lock()
	if err := l.guardLocked(AtPin); err != nil {
		td, events := l.expireIfDueLocked(err)
		l.mu.Unlock()
		td.run()
		l.emit(events...)
		return err
	}
	if err := l.beginLocked(AtPin); err != nil {
		l.mu.Unlock()
		return err
	}
	pos := l.position
	submissionID := l.pin.SubmissionID
	l.mu.Unlock()
	defer l.endBusy()

	depot, err := l.cfg.Depots.NearestDepot(ctx, pos)
	if err != nil {
		if verr := l.revalidate(AtPin); verr != nil {
			return verr
		}
		observability.ConfirmRejections.WithLabelValues("no_depot").Inc()
		l.logger.Warn("depot lookup failed", "error", err)
		return fmt.Errorf("%w: %w", ErrNoDepot, err)
	}
	if err := l.revalidate(AtPin); err != nil {
		return err
	}

	if submissionID != "" {
		if err := l.cfg.Pins.MarkComplete(ctx, submissionID); err != nil {
			observability.MarkCompleteFailures.Inc()
			l.logger.Error("mark complete failed, continuing", "submission_id", submissionID, "error", err)
		}
	}

	l.mu.Lock()
	if err := l.guardLocked(AtPin); err != nil {
		td, events := l.expireIfDueLocked(err)
		l.mu.Unlock()
		td.run()
		l.emit(events...)
		l.logger.Warn("pickup confirmation voided", "error", err)
		return err
	}
	l.depot = &depot
	l.pin.Status = models.PinPickedUp
	l.routeStale = true
	l.setStateLocked(EnRouteToDepot)
	events := []models.Event{l.eventLocked(models.EventTransition)}
	l.mu.Unlock()
	l.emit(events...)

	l.logger.Info("pickup confirmed", "pin_id", l.pinID(), "depot_id", depot.ExternalID, "depot", depot.Name)
	if err := l.refresh(ctx); err != nil {
		l.logger.Warn("route to depot unavailable", "error", err)
	}
	return nil
}

// ConfirmDropoff completes the pickup.
func (l *Lifecycle) ConfirmDropoff(ctx context.Context) error {
	l.mu.Lock()
	if err := l.guardLocked(AtDepot); err != nil {
		l.mu.Unlock()
		return err
	}
	l.pin.Status = models.PinCompleted
	l.setStateLocked(Completed)
	events := []models.Event{l.eventLocked(models.EventCompleted)}
	td := l.detachLocked()
	l.mu.Unlock()
	td.run()
	l.emit(events...)
	l.logger.Info("pickup completed", "pin_id", l.pinID())
	return nil
}

// Confirm performs whichever confirmation the current state allows.
func (l *Lifecycle) Confirm(ctx context.Context) error {
	switch l.State() {
	case EnRouteToPin:
		return l.ConfirmArrival(ctx)
	case AtPin:
		return l.ConfirmPickup(ctx)
	case EnRouteToDepot:
		return l.ConfirmDepotArrival(ctx)
	case AtDepot:
		return l.ConfirmDropoff(ctx)
	case Expired:
		return ErrExpired
	default:
		return ErrInvalidTransition
	}
}

// Cancel abandons the claim while travelling. Releasing the pin on the
// backend is not done here.
func (l *Lifecycle) Cancel() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if !l.state.cancellable() {
		l.mu.Unlock()
		if l.state == Expired {
			return ErrExpired
		}
		return ErrInvalidTransition
	}
	l.pin.Status = models.PinAvailable
	l.pin.ClaimExpiry = nil
	l.setStateLocked(Cancelled)
	events := []models.Event{l.eventLocked(models.EventCancelled)}
	td := l.detachLocked()
	l.mu.Unlock()
	td.run()
	l.emit(events...)
	l.logger.Info("claim cancelled", "pin_id", l.pinID())
	return nil
}

// SetTravelMode switches mode and re-queries the route to the current target.
func (l *Lifecycle) SetTravelMode(ctx context.Context, mode models.TravelMode) error {
	l.mu.Lock()
	if !l.state.Active() {
		l.mu.Unlock()
		return ErrInvalidTransition
	}
	changed := l.mode != mode
	l.mode = mode
	l.mu.Unlock()
	if !changed {
		return nil
	}
	return l.refresh(ctx)
}

// RefreshRoute re-queries the route for the current target and mode.
func (l *Lifecycle) RefreshRoute(ctx context.Context) error {
	return l.refresh(ctx)
}

func (l *Lifecycle) refresh(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if !l.state.Active() {
		l.mu.Unlock()
		return ErrInvalidTransition
	}
	if !l.hasPosition {
		l.mu.Unlock()
		return ErrNoPosition
	}
	target, _ := l.targetLocked()
	origin, mode := l.position, l.mode
	l.routeGen++
	gen := l.routeGen
	l.mu.Unlock()

	route, err := l.cfg.Routes.GetRoute(ctx, origin, target, mode)

	l.mu.Lock()
	if gen != l.routeGen || !l.state.Active() || l.closed {
		l.mu.Unlock()
		return err
	}
	events := l.applyRouteLocked(route, err)
	l.mu.Unlock()
	l.emit(events...)
	return err
}

// applyRouteLocked keeps the previous route when the fetch failed.
func (l *Lifecycle) applyRouteLocked(route models.Route, err error) []models.Event {
	if err != nil {
		l.routeErr = err.Error()
		l.routeStale = l.route != nil
		e := l.eventLocked(models.EventRouteUpdated)
		e.Error = l.routeErr
		return []models.Event{e}
	}
	l.route = &route
	l.routeStale = false
	l.routeErr = ""
	l.tracker.Reset(route.Steps)
	if l.hasPosition {
		l.tracker.Update(l.position)
	}
	e := l.eventLocked(models.EventRouteUpdated)
	idx := l.tracker.Index()
	e.StepIndex = &idx
	return []models.Event{e}
}

func (l *Lifecycle) onPosition(c models.Coord) {
	l.mu.Lock()
	if l.closed || !l.state.Active() {
		l.mu.Unlock()
		return
	}
	l.position = c
	l.hasPosition = true
	var events []models.Event
	if idx, changed := l.tracker.Update(c); changed {
		e := l.eventLocked(models.EventStepAdvanced)
		e.StepIndex = &idx
		events = append(events, e)
	}
	l.mu.Unlock()
	l.emit(events...)
}

func (l *Lifecycle) onHeading(deg float64) {
	l.mu.Lock()
	l.heading = deg
	l.mu.Unlock()
}

func (l *Lifecycle) onTick(remaining int) {
	l.mu.Lock()
	if l.closed || !l.state.expirable() {
		l.mu.Unlock()
		return
	}
	e := l.eventLocked(models.EventCountdown)
	e.RemainingSeconds = &remaining
	l.mu.Unlock()
	l.emit(e)
}

// onExpire runs on the timer goroutine.
func (l *Lifecycle) onExpire() {
	l.mu.Lock()
	if l.closed || !l.state.expirable() {
		l.mu.Unlock()
		return
	}
	td, events := l.expireLocked()
	l.mu.Unlock()
	td.run()
	l.emit(events...)
}

func (l *Lifecycle) expireLocked() (teardown, []models.Event) {
	l.pin.Status = models.PinAvailable
	l.setStateLocked(Expired)
	l.logger.Warn("claim expired", "pin_id", l.pin.ID)
	return l.detachLocked(), []models.Event{l.eventLocked(models.EventExpired)}
}

// expireIfDueLocked turns an ErrExpired guard result into the Expired
// transition when the timer has not fired yet.
func (l *Lifecycle) expireIfDueLocked(err error) (teardown, []models.Event) {
	if errors.Is(err, ErrExpired) && l.state.expirable() {
		return l.expireLocked()
	}
	return teardown{}, nil
}

// guardLocked checks that the session is in want and the claim has not
// lapsed. The clock is consulted directly since the timer ticks up to a
// second late.
func (l *Lifecycle) guardLocked(want State) error {
	if l.closed {
		return ErrClosed
	}
	if l.state == Expired {
		return ErrExpired
	}
	if l.state != want {
		return ErrInvalidTransition
	}
	if l.state.expirable() && l.claimLapsedLocked() {
		return ErrExpired
	}
	return nil
}

func (l *Lifecycle) claimLapsedLocked() bool {
	if l.timer != nil && l.timer.Expired() {
		return true
	}
	return l.pin.ClaimExpiry != nil && !l.cfg.Clock.Now().Before(*l.pin.ClaimExpiry)
}

func (l *Lifecycle) beginLocked(want State) error {
	if l.closed {
		return ErrClosed
	}
	if l.busy {
		return ErrBusy
	}
	if l.state != want {
		if l.state == Expired {
			return ErrExpired
		}
		return ErrInvalidTransition
	}
	l.busy = true
	return nil
}

func (l *Lifecycle) endBusy() {
	l.mu.Lock()
	l.busy = false
	l.mu.Unlock()
}

// revalidate re-checks the state after I/O done without the lock.
func (l *Lifecycle) revalidate(want State) error {
	l.mu.Lock()
	err := l.guardLocked(want)
	var td teardown
	var events []models.Event
	if err != nil {
		td, events = l.expireIfDueLocked(err)
	}
	l.mu.Unlock()
	td.run()
	l.emit(events...)
	return err
}

func (l *Lifecycle) targetLocked() (models.Coord, bool) {
	switch l.state {
	case EnRouteToPin, AtPin:
		return l.pin.Location, true
	case EnRouteToDepot, AtDepot:
		if l.depot != nil {
			return l.depot.Location, true
		}
	}
	return models.Coord{}, false
}

func (l *Lifecycle) setStateLocked(s State) {
	l.logger.Debug("state transition", "from", l.state, "to", s)
	l.state = s
	observability.LifecycleTransitions.WithLabelValues(string(s)).Inc()
}

func (l *Lifecycle) eventLocked(t models.EventType) models.Event {
	e := models.Event{
		Type:         t,
		SessionID:    l.cfg.SessionID,
		CollectorID:  l.cfg.CollectorID,
		PinID:        l.pin.ID,
		SubmissionID: l.pin.SubmissionID,
		State:        string(l.state),
		At:           l.cfg.Clock.Now(),
	}
	loc := l.pin.Location
	e.PinLocation = &loc
	if l.depot != nil {
		e.DepotID = l.depot.ExternalID
	}
	if target, ok := l.targetLocked(); ok && l.hasPosition {
		d := geo.DistanceMeters(l.position, target)
		e.DistanceMeters = &d
	}
	return e
}

func (l *Lifecycle) emit(events ...models.Event) {
	for _, e := range events {
		for _, s := range l.cfg.Sinks {
			ctx, cancel := context.WithTimeout(context.Background(), l.cfg.SinkTimeout)
			if err := s.Publish(ctx, e); err != nil {
				l.logger.Warn("event sink publish failed", "event", e.Type, "error", err)
			}
			cancel()
		}
	}
}

// Close releases subscriptions and the claim timer without changing state.
func (l *Lifecycle) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	td := l.detachLocked()
	l.mu.Unlock()
	td.run()
}

func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Lifecycle) pinID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pin.ID
}
