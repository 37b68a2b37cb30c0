package routing

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/bottle-collector/internal/models"
)

// RedisCache shares routes between server instances. Expiry is left to Redis.
// Any Redis error degrades to a miss.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisCache(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{client: client, prefix: "route:", ttl: ttl, logger: logger}
}

func (c *RedisCache) Get(ctx context.Context, key string) (models.Route, bool) {
	b, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("route cache get failed", "key", key, "error", err)
		}
		return models.Route{}, false
	}
	var r models.Route
	if err := json.Unmarshal(b, &r); err != nil {
		c.logger.Warn("route cache entry unreadable", "key", key, "error", err)
		return models.Route{}, false
	}
	return r, true
}

func (c *RedisCache) Set(ctx context.Context, key string, r models.Route) {
	b, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.prefix+key, b, c.ttl).Err(); err != nil {
		c.logger.Warn("route cache set failed", "key", key, "error", err)
	}
}
