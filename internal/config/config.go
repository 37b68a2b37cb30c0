package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are loaded from environment variables with defaults that run
// locally without any backing services.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr      string
	RedisPassword  string
	RedisPinGeoKey string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	RoutingProvider string
	GoogleMapsKey   string
	OSRMEndpoint    string
	RouteCacheTTL   time.Duration
	ProviderTimeout time.Duration

	BackendBaseURL string
	DepotKeyword   string
	PushEndpoint   string

	SessionIdleTimeout time.Duration

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:           ":8080",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		RedisPinGeoKey:     "pins_geo",
		KafkaTopic:         "pickup-events",
		RoutingProvider:    "google",
		OSRMEndpoint:       "https://router.project-osrm.org",
		RouteCacheTTL:      5 * time.Minute,
		ProviderTimeout:    10 * time.Second,
		BackendBaseURL:     "http://localhost:5000",
		DepotKeyword:       "bottle depot",
		SessionIdleTimeout: 30 * time.Minute,
		LogLevel:           "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisPinGeoKey, "REDIS_PIN_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	if v := os.Getenv("ROUTING_PROVIDER"); v != "" {
		cfg.RoutingProvider = strings.ToLower(strings.TrimSpace(v))
	}
	cfg.GoogleMapsKey = strings.TrimSpace(os.Getenv("GOOGLE_MAPS_KEY"))
	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")
	setDurationFromEnv(&cfg.RouteCacheTTL, "ROUTE_CACHE_TTL", &errs)
	setDurationFromEnv(&cfg.ProviderTimeout, "PROVIDER_TIMEOUT", &errs)

	setStringFromEnv(&cfg.BackendBaseURL, "BACKEND_BASE_URL")
	setStringFromEnv(&cfg.DepotKeyword, "DEPOT_KEYWORD")
	cfg.PushEndpoint = strings.TrimSpace(os.Getenv("PUSH_ENDPOINT"))
	setDurationFromEnv(&cfg.SessionIdleTimeout, "SESSION_IDLE_TIMEOUT", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	switch cfg.RoutingProvider {
	case "google", "osrm":
	default:
		errs = append(errs, fmt.Errorf("ROUTING_PROVIDER must be google or osrm, got %q", cfg.RoutingProvider))
	}
	if cfg.RouteCacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("ROUTE_CACHE_TTL must be > 0"))
	}
	if cfg.ProviderTimeout <= 0 {
		errs = append(errs, fmt.Errorf("PROVIDER_TIMEOUT must be > 0"))
	}
	if cfg.SessionIdleTimeout < time.Second {
		errs = append(errs, fmt.Errorf("SESSION_IDLE_TIMEOUT must be at least 1s"))
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig configures the kafka to redis mirror.
type ConsumerConfig struct {
	KafkaBrokers   []string
	KafkaTopic     string
	KafkaGroup     string
	RedisAddr      string
	RedisPassword  string
	RedisPinGeoKey string
	MetricsAddr    string
	RetryAttempts  int
	RetryDelay     time.Duration
	LogLevel       string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		KafkaBrokers:   []string{"localhost:9092"},
		KafkaTopic:     "pickup-events",
		KafkaGroup:     "bottle-collector-consumer",
		RedisAddr:      "localhost:6379",
		RedisPinGeoKey: "pins_geo",
		MetricsAddr:    ":2112",
		RetryAttempts:  3,
		RetryDelay:     200 * time.Millisecond,
		LogLevel:       "info",
	}
	var errs []error
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisPinGeoKey, "REDIS_PIN_GEO_KEY")
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	setIntFromEnv(&cfg.RetryAttempts, "REDIS_RETRY_ATTEMPTS", &errs)
	setDurationFromEnv(&cfg.RetryDelay, "REDIS_RETRY_DELAY", &errs)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if cfg.RetryAttempts <= 0 {
		errs = append(errs, fmt.Errorf("REDIS_RETRY_ATTEMPTS must be > 0"))
	}
	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS is empty"))
	}
	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
