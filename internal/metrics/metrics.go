// Package metrics exposes Prometheus collectors for the token pool and the
// crawl scheduler.
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
	poolSize               prometheus.Gauge
	probesTotal            *prometheus.CounterVec
	evictionsTotal         *prometheus.CounterVec
	mintsTotal             *prometheus.CounterVec
	targetsTotal           *prometheus.CounterVec
	batchesTotal           *prometheus.CounterVec
	backoffDelaysSeconds   *prometheus.HistogramVec
	activeWindows          prometheus.Gauge
	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDurationSec *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		poolSize = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "statute_token_pool_size",
			Help: "Number of credential records last observed in the shared pool.",
		})

		probesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statute_token_probes_total",
				Help: "Token health probes, labeled by result and reason.",
			},
			[]string{"result", "reason"},
		)

		evictionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statute_token_evictions_total",
				Help: "Tokens removed from the pool, labeled by reason.",
			},
			[]string{"reason"},
		)

		mintsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statute_token_mints_total",
				Help: "Login attempts made to replenish the pool, labeled by result.",
			},
			[]string{"result"},
		)

		targetsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statute_fetch_targets_total",
				Help: "Detail fetches, labeled by category and status.",
			},
			[]string{"category", "status"},
		)

		batchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statute_batches_total",
				Help: "Completed passes over a window, labeled by decision.",
			},
			[]string{"decision"},
		)

		backoffDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "statute_backoff_delay_seconds",
				Help:    "Histogram of scheduler backoff waits.",
				Buckets: []float64{1, 5, 10, 30, 45, 60, 120},
			},
			[]string{"kind"},
		)

		activeWindows = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "statute_active_windows",
			Help: "Number of crawl windows currently being driven.",
		})

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statute_admin_http_requests_total",
				Help: "Admin API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSec = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "statute_admin_http_request_duration_seconds",
				Help:    "Histogram of admin API latencies, labeled by method.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetPoolSize records the last observed pool size.
func SetPoolSize(n int64) {
	Init()
	poolSize.Set(float64(n))
}

// ObserveProbe counts one probe outcome.
func ObserveProbe(result, reason string) {
	Init()
	probesTotal.WithLabelValues(result, reason).Inc()
}

// ObserveEviction counts one removed token.
func ObserveEviction(reason string) {
	Init()
	evictionsTotal.WithLabelValues(reason).Inc()
}

// ObserveMint counts one login attempt.
func ObserveMint(result string) {
	Init()
	mintsTotal.WithLabelValues(result).Inc()
}

// ObserveTarget counts one detail fetch.
func ObserveTarget(category, status string) {
	Init()
	targetsTotal.WithLabelValues(category, status).Inc()
}

// ObserveBatch counts one evaluated pass.
func ObserveBatch(decision string) {
	Init()
	batchesTotal.WithLabelValues(decision).Inc()
}

// ObserveBackoff records a scheduler wait.
func ObserveBackoff(kind string, d time.Duration) {
	Init()
	backoffDelaysSeconds.WithLabelValues(kind).Observe(d.Seconds())
}

// IncActiveWindows increments the active windows gauge.
func IncActiveWindows() {
	Init()
	activeWindows.Inc()
}

// DecActiveWindows decrements the active windows gauge.
func DecActiveWindows() {
	Init()
	activeWindows.Dec()
}

// ObserveHTTPRequest records one admin API request.
func ObserveHTTPRequest(method, code string, d time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, code).Inc()
	httpRequestDurationSec.WithLabelValues(method).Observe(d.Seconds())
}
