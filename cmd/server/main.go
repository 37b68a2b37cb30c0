package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/example/bottle-collector/internal/backend"
	"github.com/example/bottle-collector/internal/config"
	"github.com/example/bottle-collector/internal/dispatch"
	"github.com/example/bottle-collector/internal/geo"
	httpapi "github.com/example/bottle-collector/internal/http"
	"github.com/example/bottle-collector/internal/ingest"
	"github.com/example/bottle-collector/internal/lifecycle"
	"github.com/example/bottle-collector/internal/logging"
	"github.com/example/bottle-collector/internal/places"
	"github.com/example/bottle-collector/internal/routing"
	"github.com/example/bottle-collector/internal/session"
	"github.com/example/bottle-collector/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()

	var rc *redis.Client
	if cfg.RedisAddr != "" {
		rc = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rc.Ping(ctx).Err(); err != nil {
			logger.Error("redis ping failed", "addr", cfg.RedisAddr, "error", err)
			return
		}
		defer rc.Close()
	}

	var provider routing.Provider
	switch cfg.RoutingProvider {
	case "osrm":
		provider = routing.NewOSRMProvider(cfg.OSRMEndpoint, cfg.ProviderTimeout)
	default:
		if cfg.GoogleMapsKey == "" {
			logger.Warn("GOOGLE_MAPS_KEY not set, routes and depot lookups will fail")
		}
		provider = routing.NewGoogleProvider(cfg.GoogleMapsKey, cfg.ProviderTimeout)
	}
	var cache routing.Cache = routing.NewMemoryCache(cfg.RouteCacheTTL, clock)
	if rc != nil {
		cache = routing.NewRedisCache(rc, cfg.RouteCacheTTL, logger)
	}
	routes := routing.NewClient(provider, routing.WithCache(cache), routing.WithClock(clock), routing.WithLogger(logger))

	var index geo.PinIndex = geo.NewIndex()
	if rc != nil {
		index = geo.NewRedisIndex(rc, cfg.RedisPinGeoKey, logger)
	}

	var store storage.PickupStore = storage.NewMemoryStore()
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable, keeping pickups in memory", "error", err)
		} else {
			defer ps.Close()
			if cfg.RunMigrations {
				if err := ps.Migrate(ctx); err != nil {
					logger.Error("migration failed", "error", err)
					return
				}
				logger.Info("migration applied", "table", "pickups")
			}
			store = ps
		}
	}

	ws := dispatch.NewWSRegistry(logger)
	sinks := []lifecycle.EventSink{
		dispatch.NewPushDispatcher(cfg.PushEndpoint, ws),
		&storage.Recorder{Store: store},
	}
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer kp.Close()
		sinks = append(sinks, kp)
	} else {
		// without the consumer the index is kept current in process
		sinks = append(sinks, &geo.IndexSink{Index: index})
	}

	pins := backend.NewClient(cfg.BackendBaseURL, cfg.ProviderTimeout)
	registry := session.NewRegistry(session.Deps{
		Routes: routes,
		Pins:   pins,
		Depots: places.NewGoogleClient(cfg.GoogleMapsKey, cfg.DepotKeyword, cfg.ProviderTimeout),
		Sinks:  sinks,
		Clock:  clock,
		Logger: logger,
	})
	defer registry.CloseAll()

	api := httpapi.NewServer(httpapi.Options{
		Sessions: registry,
		WSReg:    ws,
		Index:    index,
		Pins:     pins,
		Clock:    clock,
		Logger:   logger,
	})
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go sweep(ctx, registry, cfg.SessionIdleTimeout, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("bottle-collector listening", "addr", cfg.HTTPAddr, "routing", cfg.RoutingProvider)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
		}
		return
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

// sweep drops finished sessions whose devices never called DELETE.
func sweep(ctx context.Context, registry *session.Registry, idle time.Duration, logger *slog.Logger) {
	t := time.NewTicker(idle / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := registry.Sweep(idle); n > 0 {
				logger.Info("swept finished sessions", "count", n)
			}
		}
	}
}
