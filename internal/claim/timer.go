package claim

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// ClaimDuration is how long a collector holds a pin after accepting it.
const ClaimDuration = 30 * time.Minute

const tickInterval = time.Second

// Timer counts down to a claim expiry on its own ticker. onExpire runs at most
// once, on the timer goroutine, the first time the remaining time reaches
// zero. Callbacks must not block on Stop except from onExpire itself.
type Timer struct {
	clock    clockwork.Clock
	expiry   time.Time
	onExpire func()
	onTick   func(remaining int)

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	expired  atomic.Bool
}

type Option func(*Timer)

// WithTick reports the remaining seconds on every tick, including the
// initial check at start.
func WithTick(fn func(remaining int)) Option {
	return func(t *Timer) { t.onTick = fn }
}

// Start begins ticking toward expiry. An expiry that has already passed fires
// immediately.
func Start(clock clockwork.Clock, expiry time.Time, onExpire func(), opts ...Option) *Timer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	t := &Timer{
		clock:    clock,
		expiry:   expiry,
		onExpire: onExpire,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	ticker := clock.NewTicker(tickInterval)
	go t.run(ticker)
	return t
}

func (t *Timer) run(ticker clockwork.Ticker) {
	defer close(t.done)
	defer ticker.Stop()
	if t.check() {
		return
	}
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.Chan():
			if t.check() {
				return
			}
		}
	}
}

// check reports whether the timer is finished.
func (t *Timer) check() bool {
	select {
	case <-t.stop:
		return true
	default:
	}
	rem := t.RemainingSeconds()
	if t.onTick != nil {
		t.onTick(rem)
	}
	if rem > 0 {
		return false
	}
	if t.expired.CompareAndSwap(false, true) && t.onExpire != nil {
		t.onExpire()
	}
	return true
}

// RemainingSeconds rounds up so it only reads 0 once the expiry has passed.
// It never goes negative.
func (t *Timer) RemainingSeconds() int {
	left := t.expiry.Sub(t.clock.Now())
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Seconds()))
}

func (t *Timer) Expiry() time.Time { return t.expiry }

func (t *Timer) Expired() bool { return t.expired.Load() }

// Done is closed once the tick goroutine has exited.
func (t *Timer) Done() <-chan struct{} { return t.done }

// Stop cancels the timer without firing onExpire. It is safe to call more
// than once. Outside of onExpire it waits for the tick goroutine to exit.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
	if t.expired.Load() {
		return
	}
	<-t.done
}
