package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RouteCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "bottle_collector", Name: "route_cache_lookups_total", Help: "Route cache lookups by result"},
		[]string{"result"},
	)
	RouteProviderCalls    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "bottle_collector", Name: "route_provider_calls_total", Help: "Requests sent to the directions provider"})
	RouteProviderFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "bottle_collector", Name: "route_provider_failures_total", Help: "Failed directions requests by reason"},
		[]string{"reason"},
	)
	RouteLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "bottle_collector", Name: "route_latency_seconds", Help: "Directions provider latency seconds"})

	LifecycleTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "bottle_collector", Name: "lifecycle_transitions_total", Help: "Pickup lifecycle transitions by target state"},
		[]string{"state"},
	)
	ConfirmRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "bottle_collector", Name: "confirm_rejections_total", Help: "Rejected confirm actions by reason"},
		[]string{"reason"},
	)
	MarkCompleteFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: "bottle_collector", Name: "mark_complete_failures_total", Help: "Backend mark-complete calls that failed"})
	ActiveSessions       = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "bottle_collector", Name: "active_sessions", Help: "Open collector sessions"})
	EventsPublished      = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "bottle_collector", Name: "events_published_total", Help: "Lifecycle events handed to a sink"},
		[]string{"sink", "result"},
	)
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "bottle_collector", Name: "ws_connections", Help: "Connected device websockets"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "bottle_collector", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bottle_collector",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
