package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/example/bottle-collector/internal/models"
	"github.com/example/bottle-collector/internal/observability"
)

// Client fronts a Provider with a TTL cache and collapses concurrent requests
// for the same cache key into one provider call. It never retries.
type Client struct {
	provider Provider
	cache    Cache
	clock    clockwork.Clock
	logger   *slog.Logger
	inflight singleflight.Group
}

type Option func(*Client)

func WithCache(c Cache) Option { return func(cl *Client) { cl.cache = c } }

func WithClock(c clockwork.Clock) Option { return func(cl *Client) { cl.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(cl *Client) { cl.logger = l } }

func NewClient(p Provider, opts ...Option) *Client {
	c := &Client{provider: p}
	for _, o := range opts {
		o(c)
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.cache == nil {
		c.cache = NewMemoryCache(DefaultTTL, c.clock)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// GetRoute returns a cached route or fetches one. Every failure wraps
// ErrRouteUnavailable.
//
// A caller that joins an in-flight request waits on its own ctx; the shared
// provider call is detached from any single caller's cancellation.
func (c *Client) GetRoute(ctx context.Context, origin, destination models.Coord, mode models.TravelMode) (models.Route, error) {
	if mode == "" {
		mode = models.Driving
	}
	key := CacheKey(origin, destination, mode)
	if r, ok := c.cache.Get(ctx, key); ok {
		observability.RouteCacheLookups.WithLabelValues("hit").Inc()
		return r, nil
	}
	observability.RouteCacheLookups.WithLabelValues("miss").Inc()

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.inflight.DoChan(key, func() (interface{}, error) {
		// a request that settled between our miss and joining the group
		if r, ok := c.cache.Get(fetchCtx, key); ok {
			return r, nil
		}
		observability.RouteProviderCalls.Inc()
		start := c.clock.Now()
		r, err := c.provider.Directions(fetchCtx, origin, destination, mode)
		observability.RouteLatency.Observe(c.clock.Since(start).Seconds())
		if err != nil {
			c.logFailure(key, err)
			return models.Route{}, err
		}
		c.cache.Set(fetchCtx, key, r)
		return r, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			if !errors.Is(res.Err, ErrRouteUnavailable) {
				return models.Route{}, fmt.Errorf("%w: %w", ErrRouteUnavailable, res.Err)
			}
			return models.Route{}, res.Err
		}
		return res.Val.(models.Route), nil
	case <-ctx.Done():
		return models.Route{}, fmt.Errorf("%w: %w", ErrRouteUnavailable, ctx.Err())
	}
}

func (c *Client) logFailure(key string, err error) {
	reason := "transport"
	var se *StatusError
	switch {
	case errors.Is(err, ErrMissingCredential):
		reason = "credential"
		c.logger.Error("routing provider not configured", "key", key)
	case errors.As(err, &se):
		reason = "status"
		args := []any{"key", key, "provider", se.Provider, "status", se.Status}
		switch se.Status {
		case "REQUEST_DENIED":
			args = append(args, "hint", "check that the directions api is enabled for the key")
		case "OVER_QUERY_LIMIT":
			args = append(args, "hint", "provider quota exceeded")
		}
		c.logger.Error("routing provider rejected request", args...)
	case errors.Is(err, ErrNoRoute):
		reason = "no_route"
		c.logger.Warn("no route found", "key", key)
	default:
		c.logger.Error("routing request failed", "key", key, "error", err)
	}
	observability.RouteProviderFailures.WithLabelValues(reason).Inc()
}
