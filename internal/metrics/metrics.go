// Package metrics exposes Prometheus collectors for the pipeline service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pipelineRunsTotal        *prometheus.CounterVec
	pipelineStageDuration    *prometheus.HistogramVec
	cacheOpsTotal            *prometheus.CounterVec
	breakerState             *prometheus.GaugeVec
	breakerTransitionsTotal  *prometheus.CounterVec
	retryAttemptsTotal       *prometheus.CounterVec
	rateLimitDelaySeconds    *prometheus.HistogramVec
	backgroundRefreshesTotal prometheus.Counter
	activeRuns               prometheus.Gauge

	once sync.Once
)

// Init registers all collectors. It is safe to call multiple times; only the
// first call registers.
func Init() {
	once.Do(func() {
		pipelineRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orbit_pipeline_runs_total",
				Help: "Total pipeline runs, labeled by terminal status.",
			},
			[]string{"status"},
		)

		pipelineStageDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orbit_pipeline_stage_duration_seconds",
				Help:    "Histogram of per-stage execution latency.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"stage"},
		)

		cacheOpsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orbit_cache_ops_total",
				Help: "Cache operations, labeled by op (get/set/invalidate) and result.",
			},
			[]string{"op", "result"},
		)

		breakerState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "orbit_breaker_state",
				Help: "Circuit breaker state per operation (0=closed, 1=half-open, 2=open).",
			},
			[]string{"operation"},
		)

		breakerTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orbit_breaker_transitions_total",
				Help: "Circuit breaker state transitions, labeled by operation and target state.",
			},
			[]string{"operation", "to"},
		)

		retryAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orbit_retry_attempts_total",
				Help: "Failed attempts observed by retry policies, labeled by operation.",
			},
			[]string{"operation"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orbit_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations per resource.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"resource"},
		)

		backgroundRefreshesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "orbit_background_refreshes_total",
				Help: "Background refresh-ahead runs triggered.",
			},
		)

		activeRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "orbit_active_runs",
				Help: "Pipeline runs currently in flight.",
			},
		)
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun records a terminal run status.
func ObserveRun(status string) {
	if pipelineRunsTotal == nil {
		return
	}
	pipelineRunsTotal.WithLabelValues(status).Inc()
}

// ObserveStage records one stage's execution latency.
func ObserveStage(stage string, d time.Duration) {
	if pipelineStageDuration == nil {
		return
	}
	pipelineStageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveCacheOp records a cache operation outcome.
func ObserveCacheOp(op, result string) {
	if cacheOpsTotal == nil {
		return
	}
	cacheOpsTotal.WithLabelValues(op, result).Inc()
}

// SetBreakerState publishes the current breaker position for an operation.
func SetBreakerState(operation, state string) {
	if breakerState == nil {
		return
	}
	var v float64
	switch state {
	case "HALF_OPEN":
		v = 1
	case "OPEN":
		v = 2
	}
	breakerState.WithLabelValues(operation).Set(v)
}

// ObserveBreakerTransition counts a breaker state change.
func ObserveBreakerTransition(operation, to string) {
	if breakerTransitionsTotal == nil {
		return
	}
	breakerTransitionsTotal.WithLabelValues(operation, to).Inc()
}

// ObserveRetryAttempt counts one failed attempt seen by a retry policy.
func ObserveRetryAttempt(operation string) {
	if retryAttemptsTotal == nil {
		return
	}
	retryAttemptsTotal.WithLabelValues(operation).Inc()
}

// ObserveRateLimitDelay records how long a caller waited for tokens.
func ObserveRateLimitDelay(resource string, d time.Duration) {
	if rateLimitDelaySeconds == nil {
		return
	}
	rateLimitDelaySeconds.WithLabelValues(resource).Observe(d.Seconds())
}

// ObserveBackgroundRefresh counts one scheduled refresh firing.
func ObserveBackgroundRefresh() {
	if backgroundRefreshesTotal == nil {
		return
	}
	backgroundRefreshesTotal.Inc()
}

// IncActiveRuns marks a run starting.
func IncActiveRuns() {
	if activeRuns == nil {
		return
	}
	activeRuns.Inc()
}

// DecActiveRuns marks a run finishing.
func DecActiveRuns() {
	if activeRuns == nil {
		return
	}
	activeRuns.Dec()
}
