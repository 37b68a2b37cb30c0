package routing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/example/bottle-collector/internal/models"
)

// DefaultTTL is how long a fetched route is reused.
const DefaultTTL = 5 * time.Minute

// Cache stores routes by CacheKey.
type Cache interface {
	Get(ctx context.Context, key string) (models.Route, bool)
	Set(ctx context.Context, key string, r models.Route)
}

// CacheKey rounds both ends to 4 decimal places (~11 m) so near-identical
// requests share an entry.
func CacheKey(origin, destination models.Coord, mode models.TravelMode) string {
	return fmt.Sprintf("%s-%.4f,%.4f-%.4f,%.4f", mode, origin.Lat, origin.Lng, destination.Lat, destination.Lng)
}

// MemoryCache is an in-process TTL map. Age is measured on the injected clock
// from insertion; an entry is a hit only while younger than the TTL.
type MemoryCache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
	clock clockwork.Clock
}

type cacheEntry struct {
	r  models.Route
	ts time.Time
}

func NewMemoryCache(ttl time.Duration, clock clockwork.Clock) *MemoryCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryCache{store: make(map[string]cacheEntry), ttl: ttl, clock: clock}
}

func (c *MemoryCache) Get(_ context.Context, key string) (models.Route, bool) {
	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()
	if !ok {
		return models.Route{}, false
	}
	if c.clock.Since(e.ts) >= c.ttl {
		c.mu.Lock()
		if cur, ok := c.store[key]; ok && cur.ts.Equal(e.ts) {
			delete(c.store, key)
		}
		c.mu.Unlock()
		return models.Route{}, false
	}
	return e.r, true
}

func (c *MemoryCache) Set(_ context.Context, key string, r models.Route) {
	c.mu.Lock()
	c.store[key] = cacheEntry{r: r, ts: c.clock.Now()}
	c.mu.Unlock()
}

// Len counts stored entries, expired ones included until they are next read.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}
