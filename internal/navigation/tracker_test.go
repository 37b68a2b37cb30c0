package navigation

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/example/bottle-collector/internal/models"
)

// three steps heading north along a meridian, ~111 m apart
func northSteps() []models.NavigationStep {
	return []models.NavigationStep{
		{Instruction: "Head north", End: models.Coord{Lat: 51.001, Lng: -114.0}},
		{Instruction: "Continue", End: models.Coord{Lat: 51.002, Lng: -114.0}},
		{Instruction: "Arrive", End: models.Coord{Lat: 51.003, Lng: -114.0}},
	}
}

func TestAdvanceStaysWhenFar(t *testing.T) {
	assert.Equal(t, 0, Advance(northSteps(), 0, models.Coord{Lat: 51.0, Lng: -114.0}))
}

func TestAdvanceMovesOneStep(t *testing.T) {
	// ~5.5 m short of the first step end
	assert.Equal(t, 1, Advance(northSteps(), 0, models.Coord{Lat: 51.00095, Lng: -114.0}))
}

func TestAdvanceSnapsAcrossSeveralSteps(t *testing.T) {
	steps := northSteps()
	steps[1].End = steps[0].End
	assert.Equal(t, 2, Advance(steps, 0, models.Coord{Lat: 51.001, Lng: -114.0}))
}

func TestAdvanceAtLastStepDoesNotOverflow(t *testing.T) {
	steps := northSteps()
	last := len(steps) - 1
	assert.Equal(t, last, Advance(steps, last, steps[last].End))
}

func TestAdvanceThresholdIsStrict(t *testing.T) {
	steps := []models.NavigationStep{
		{End: models.Coord{Lat: 0, Lng: 0}},
		{End: models.Coord{Lat: 1, Lng: 0}},
	}
	// 20 m / (6371000 m * pi/180) degrees of latitude
	onThreshold := models.Coord{Lat: StepAdvanceMeters / 6371000.0 * 180 / 3.141592653589793, Lng: 0}
	assert.Equal(t, 0, Advance(steps, 0, models.Coord{Lat: onThreshold.Lat * 1.001, Lng: 0}))
	assert.Equal(t, 1, Advance(steps, 0, models.Coord{Lat: onThreshold.Lat * 0.999, Lng: 0}))
}

func TestAdvanceEmptyAndNegative(t *testing.T) {
	assert.Equal(t, 3, Advance(nil, 3, models.Coord{}))
	assert.Equal(t, 0, Advance(northSteps(), -2, models.Coord{Lat: 40, Lng: 0}))
}

func TestAdvanceNeverRegresses(t *testing.T) {
	steps := northSteps()
	rng := rand.New(rand.NewSource(7))
	for n := 0; n < 500; n++ {
		idx := rng.Intn(len(steps))
		pos := models.Coord{Lat: 51.0 + rng.Float64()*0.004, Lng: -114.0 + (rng.Float64()-0.5)*0.0005}
		got := Advance(steps, idx, pos)
		if got < idx {
			t.Fatalf("regressed from %d to %d at %v", idx, got, pos)
		}
		if got > len(steps)-1 {
			t.Fatalf("overflowed to %d", got)
		}
	}
}

func TestTrackerUpdateAndReset(t *testing.T) {
	tr := NewTracker(northSteps())
	idx, changed := tr.Update(models.Coord{Lat: 51.0, Lng: -114.0})
	assert.Equal(t, 0, idx)
	assert.False(t, changed)

	idx, changed = tr.Update(models.Coord{Lat: 51.001, Lng: -114.0})
	assert.Equal(t, 1, idx)
	assert.True(t, changed)
	assert.Equal(t, 1, tr.Remaining())

	// jitter back toward the start does not regress
	idx, _ = tr.Update(models.Coord{Lat: 51.0, Lng: -114.0})
	assert.Equal(t, 1, idx)

	step, ok := tr.Current()
	assert.True(t, ok)
	assert.Equal(t, "Continue", step.Instruction)

	tr.Reset(northSteps()[:1])
	assert.Equal(t, 0, tr.Index())
	assert.Equal(t, 0, tr.Remaining())
}
