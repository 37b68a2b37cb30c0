package navigation

import (
	"github.com/example/bottle-collector/internal/geo"
	"github.com/example/bottle-collector/internal/models"
)

// StepAdvanceMeters is how close the collector must get to a step's end
// before the next step becomes current. The comparison is strict.
const StepAdvanceMeters = 20.0

// Advance moves the step cursor forward across every step whose end the
// position has already reached. It never goes backwards and never moves past
// the last step.
func Advance(steps []models.NavigationStep, currentIndex int, position models.Coord) int {
	if len(steps) == 0 {
		return currentIndex
	}
	i := currentIndex
	if i < 0 {
		i = 0
	}
	for i < len(steps)-1 && geo.DistanceMeters(position, steps[i].End) < StepAdvanceMeters {
		i++
	}
	if i < currentIndex {
		return currentIndex
	}
	return i
}

// Tracker keeps the cursor for one route.
type Tracker struct {
	steps []models.NavigationStep
	index int
}

func NewTracker(steps []models.NavigationStep) *Tracker {
	return &Tracker{steps: steps}
}

// Reset starts over on a new route.
func (t *Tracker) Reset(steps []models.NavigationStep) {
	t.steps = steps
	t.index = 0
}

// Update applies a position and reports whether the cursor moved.
func (t *Tracker) Update(position models.Coord) (int, bool) {
	next := Advance(t.steps, t.index, position)
	changed := next != t.index
	t.index = next
	return next, changed
}

func (t *Tracker) Index() int { return t.index }

func (t *Tracker) Current() (models.NavigationStep, bool) {
	if t.index < 0 || t.index >= len(t.steps) {
		return models.NavigationStep{}, false
	}
	return t.steps[t.index], true
}

// Remaining counts steps after the current one.
func (t *Tracker) Remaining() int {
	if len(t.steps) == 0 {
		return 0
	}
	return len(t.steps) - 1 - t.index
}
