package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/example/bottle-collector/internal/models"
)

var ErrNotFound = errors.New("pickup record not found")

// PickupStore persists one audit record per claimed pin, keyed by session.
type PickupStore interface {
	SavePickup(ctx context.Context, r models.PickupRecord) error
	UpdatePickup(ctx context.Context, r models.PickupRecord) error
	GetPickup(ctx context.Context, sessionID string) (models.PickupRecord, error)
}

type MemoryStore struct {
	mu      sync.RWMutex
	pickups map[string]models.PickupRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pickups: make(map[string]models.PickupRecord)}
}

func (m *MemoryStore) SavePickup(_ context.Context, r models.PickupRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pickups[r.SessionID] = r
	return nil
}

func (m *MemoryStore) UpdatePickup(_ context.Context, r models.PickupRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.pickups[r.SessionID]
	if !ok {
		return ErrNotFound
	}
	cur.State = r.State
	cur.DepotID = r.DepotID
	cur.FinishedAt = r.FinishedAt
	m.pickups[r.SessionID] = cur
	return nil
}

func (m *MemoryStore) GetPickup(_ context.Context, sessionID string) (models.PickupRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.pickups[sessionID]
	if !ok {
		return models.PickupRecord{}, ErrNotFound
	}
	return r, nil
}
