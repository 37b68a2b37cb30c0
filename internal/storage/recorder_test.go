package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/bottle-collector/internal/models"
)

func TestRecorderTracksPickup(t *testing.T) {
	store := NewMemoryStore()
	rec := &Recorder{Store: store}
	ctx := context.Background()
	claimed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, rec.Publish(ctx, models.Event{Type: models.EventAccepted, SessionID: "s1", CollectorID: "c1", PinID: "p1", SubmissionID: "sub1", State: "en_route_to_pin", At: claimed}))
	require.NoError(t, rec.Publish(ctx, models.Event{Type: models.EventCountdown, SessionID: "s1", State: "en_route_to_pin"}))
	require.NoError(t, rec.Publish(ctx, models.Event{Type: models.EventTransition, SessionID: "s1", State: "en_route_to_depot", DepotID: "d1", At: claimed.Add(5 * time.Minute)}))

	got, err := store.GetPickup(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "en_route_to_depot", got.State)
	assert.Equal(t, "d1", got.DepotID)
	assert.Equal(t, "sub1", got.SubmissionID)
	assert.Equal(t, claimed, got.ClaimedAt)
	assert.Nil(t, got.FinishedAt)

	done := claimed.Add(20 * time.Minute)
	require.NoError(t, rec.Publish(ctx, models.Event{Type: models.EventCompleted, SessionID: "s1", State: "completed", DepotID: "d1", At: done}))
	got, err = store.GetPickup(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "completed", got.State)
	require.NotNil(t, got.FinishedAt)
	assert.Equal(t, done, *got.FinishedAt)
}

func TestRecorderUpdateWithoutAccept(t *testing.T) {
	rec := &Recorder{Store: NewMemoryStore()}
	err := rec.Publish(context.Background(), models.Event{Type: models.EventExpired, SessionID: "ghost", State: "expired"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreGetMissing(t *testing.T) {
	_, err := NewMemoryStore().GetPickup(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
