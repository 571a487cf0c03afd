// Package metrics defines the Prometheus metric collectors used by the feed
// platform and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the platform.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	FeedRequestsTotal    *prometheus.CounterVec
	FeedBuildDuration    *prometheus.HistogramVec
	FeedCandidates       prometheus.Histogram
	FeedCacheHitsTotal   prometheus.Counter
	FeedCacheMissesTotal prometheus.Counter
	EngagementTotal      *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		FeedRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_requests_total",
				Help: "Total feed page requests by mode and outcome (ok, empty, error).",
			},
			[]string{"mode", "outcome"},
		),
		FeedBuildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "feed_build_duration_seconds",
				Help:    "Time to assemble and rank one feed page.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"mode"},
		),
		FeedCandidates: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "feed_candidate_window_size",
				Help:    "Number of candidate posts fetched per page before truncation.",
				Buckets: []float64{0, 5, 10, 20, 30, 50, 100},
			},
		),
		FeedCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "feed_cache_hits_total",
				Help: "Total feed page cache hits.",
			},
		),
		FeedCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "feed_cache_misses_total",
				Help: "Total feed page cache misses.",
			},
		),
		EngagementTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engagement_commands_total",
				Help: "Engagement commands by action (like, unlike, relog, unrelog) and status.",
			},
			[]string{"action", "status"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.FeedRequestsTotal,
		m.FeedBuildDuration,
		m.FeedCandidates,
		m.FeedCacheHitsTotal,
		m.FeedCacheMissesTotal,
		m.EngagementTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
