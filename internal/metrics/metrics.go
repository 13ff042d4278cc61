// Package metrics holds the Prometheus collectors shared across the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TierLookups counts read results by resource and the tier that served them
	TierLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raffle_cache_lookups_total",
			Help: "Read results by resource and serving tier",
		},
		[]string{"resource", "source"},
	)

	// CacheErrors counts cache failures that were degraded to a miss or a logged write
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raffle_cache_errors_total",
			Help: "Cache tier failures by tier and operation",
		},
		[]string{"tier", "operation"},
	)

	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raffle_upstream_requests_total",
			Help: "Requests sent to the indexer and node",
		},
		[]string{"operation", "status"},
	)

	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "raffle_upstream_request_duration_seconds",
			Help:    "Upstream request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "raffle_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	DroppedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raffle_events_dropped_total",
			Help: "Raw upstream events dropped during normalization",
		},
		[]string{"reason"},
	)

	IngestedRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raffle_ingested_records_total",
			Help: "Records passed to a side effect by ingestion, by outcome",
		},
		[]string{"sink", "outcome"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raffle_http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "raffle_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	PollCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raffle_poll_cycles_total",
			Help: "Event poller cycles by outcome",
		},
		[]string{"outcome"},
	)
)
