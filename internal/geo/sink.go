package geo

import (
	"context"

	"github.com/example/bottle-collector/internal/models"
)

// ReleasedPin rebuilds the available pin a cancelled or expired claim hands
// back to the map. ok is false for every other event.
func ReleasedPin(e models.Event) (p models.Pin, ok bool) {
	if e.Type != models.EventCancelled && e.Type != models.EventExpired {
		return models.Pin{}, false
	}
	if e.PinLocation == nil || e.PinID == "" {
		return models.Pin{}, false
	}
	return models.Pin{
		ID:           e.PinID,
		SubmissionID: e.SubmissionID,
		Location:     *e.PinLocation,
		Status:       models.PinAvailable,
		CreatedAt:    e.At,
	}, true
}

// IndexSink keeps a PinIndex in step with claims made in this process:
// accepted and completed pins leave the map, released pins come back.
type IndexSink struct {
	Index PinIndex
}

func (s *IndexSink) Publish(_ context.Context, e models.Event) error {
	switch e.Type {
	case models.EventAccepted, models.EventCompleted:
		s.Index.Remove(e.PinID)
	case models.EventCancelled, models.EventExpired:
		if p, ok := ReleasedPin(e); ok {
			s.Index.Upsert(p)
		}
	}
	return nil
}
