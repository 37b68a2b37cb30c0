package storage

import (
	"context"

	"github.com/example/bottle-collector/internal/models"
)

// Recorder is a lifecycle event sink that keeps the pickup audit trail.
type Recorder struct {
	Store PickupStore
}

func (r *Recorder) Publish(ctx context.Context, e models.Event) error {
	switch e.Type {
	case models.EventAccepted:
		return r.Store.SavePickup(ctx, models.PickupRecord{
			SessionID:    e.SessionID,
			CollectorID:  e.CollectorID,
			PinID:        e.PinID,
			SubmissionID: e.SubmissionID,
			State:        e.State,
			ClaimedAt:    e.At,
		})
	case models.EventTransition, models.EventCompleted, models.EventCancelled, models.EventExpired:
		rec := models.PickupRecord{SessionID: e.SessionID, State: e.State, DepotID: e.DepotID}
		if e.Terminal() {
			at := e.At
			rec.FinishedAt = &at
		}
		return r.Store.UpdatePickup(ctx, rec)
	}
	return nil
}
