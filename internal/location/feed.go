package location

import (
	"context"
	"errors"
	"sync"

	"github.com/example/bottle-collector/internal/models"
)

var (
	ErrPermissionDenied = errors.New("location permission denied")
	ErrNoFix            = errors.New("no position fix yet")
)

// Provider is the device location service as seen by a collector session.
type Provider interface {
	CurrentPosition(ctx context.Context) (models.Coord, error)
	WatchPosition(fn func(models.Coord)) Subscription
	WatchHeading(fn func(float64)) Subscription
}

// Subscription is removed exactly once; further calls are no-ops.
type Subscription interface {
	Remove()
}

// Feed is a Provider fed by pushes from the device. Callbacks run
// synchronously on the publishing goroutine, in subscription order.
type Feed struct {
	mu        sync.RWMutex
	denied    bool
	hasFix    bool
	last      models.Coord
	heading   float64
	nextID    int
	positions map[int]func(models.Coord)
	headings  map[int]func(float64)
	order     []int
}

func NewFeed() *Feed {
	return &Feed{
		positions: make(map[int]func(models.Coord)),
		headings:  make(map[int]func(float64)),
	}
}

func (f *Feed) CurrentPosition(ctx context.Context) (models.Coord, error) {
	if err := ctx.Err(); err != nil {
		return models.Coord{}, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.denied {
		return models.Coord{}, ErrPermissionDenied
	}
	if !f.hasFix {
		return models.Coord{}, ErrNoFix
	}
	return f.last, nil
}

// SetPermission records the device permission state. While denied, published
// positions are dropped.
func (f *Feed) SetPermission(granted bool) {
	f.mu.Lock()
	f.denied = !granted
	f.mu.Unlock()
}

func (f *Feed) PublishPosition(c models.Coord) error {
	f.mu.Lock()
	if f.denied {
		f.mu.Unlock()
		return ErrPermissionDenied
	}
	f.last = c
	f.hasFix = true
	subs := f.snapshotPositions()
	f.mu.Unlock()
	for _, fn := range subs {
		fn(c)
	}
	return nil
}

func (f *Feed) PublishHeading(deg float64) {
	f.mu.Lock()
	f.heading = deg
	subs := make([]func(float64), 0, len(f.headings))
	for _, id := range f.order {
		if fn, ok := f.headings[id]; ok {
			subs = append(subs, fn)
		}
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(deg)
	}
}

func (f *Feed) Heading() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.heading
}

func (f *Feed) snapshotPositions() []func(models.Coord) {
	subs := make([]func(models.Coord), 0, len(f.positions))
	for _, id := range f.order {
		if fn, ok := f.positions[id]; ok {
			subs = append(subs, fn)
		}
	}
	return subs
}

func (f *Feed) WatchPosition(fn func(models.Coord)) Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.add()
	f.positions[id] = fn
	return &subscription{remove: func() { f.remove(id) }}
}

func (f *Feed) WatchHeading(fn func(float64)) Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.add()
	f.headings[id] = fn
	return &subscription{remove: func() { f.remove(id) }}
}

// Subscribers counts live position and heading subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.positions) + len(f.headings)
}

func (f *Feed) add() int {
	f.nextID++
	f.order = append(f.order, f.nextID)
	return f.nextID
}

func (f *Feed) remove(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.positions, id)
	delete(f.headings, id)
	for i, v := range f.order {
		if v == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

type subscription struct {
	once   sync.Once
	remove func()
}

func (s *subscription) Remove() { s.once.Do(s.remove) }
