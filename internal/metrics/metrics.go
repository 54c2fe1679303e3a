// Package metrics exposes Prometheus collectors for sync runs and remote API calls.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "totalrecall"

var (
	// Runs

	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Completed sync runs by outcome (success, partial, failed)",
		},
		[]string{"outcome"},
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of a full sync run",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_phase_duration_seconds",
			Help:      "Duration of each pipeline phase",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_last_success_timestamp",
			Help:      "Unix time of the last run that finished without errors",
		},
	)

	// Items

	ItemsCollected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_collected_total",
			Help:      "Items read from a source",
		},
		[]string{"source", "data_type"},
	)

	ItemsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_written_total",
			Help:      "Items written to a target",
		},
		[]string{"target", "data_type"},
	)

	ItemsExcluded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_excluded_total",
			Help:      "Items dropped before reaching a target, by filter stage",
		},
		[]string{"target", "stage"},
	)

	SyncErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_errors_total",
			Help:      "Errors recorded during runs",
		},
		[]string{"source", "phase"},
	)

	// Identifier cache

	IDCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "id_cache_lookups_total",
			Help:      "Identifier cache lookups by result (hit, miss)",
		},
		[]string{"result"},
	)

	IDProviderLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "id_provider_lookups_total",
			Help:      "Remote identifier lookups by provider and result",
		},
		[]string{"provider", "result"},
	)

	// Remote APIs

	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Requests to remote services by status class",
		},
		[]string{"service", "method", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Latency of requests to remote services",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"service"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per service (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service"},
	)
)
