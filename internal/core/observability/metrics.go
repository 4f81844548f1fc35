// Package observability holds the Prometheus collectors used across the service.
package observability

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type collectors struct {
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	upstreamLatencySeconds     *prometheus.HistogramVec
	probeRequests              *prometheus.CounterVec
	coverageResults            *prometheus.CounterVec
	cacheResults               *prometheus.CounterVec
	cacheOps                   *prometheus.CounterVec
	redisOpDuration            *prometheus.HistogramVec
	invalidations              *prometheus.CounterVec
}

// nil until Init; every recorder is a no-op before then
var active atomic.Pointer[collectors]

// Init registers the collectors on reg. Calling it again swaps in a fresh set,
// which tests rely on to get an isolated registry.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		active.Store(nil)
		return
	}
	f := promauto.With(reg)
	latency := prometheus.ExponentialBuckets(0.005, 2, 12) // 5ms to ~20s

	active.Store(&collectors{
		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpRequestDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: latency,
		}, []string{"method", "route", "status"}),
		upstreamLatencySeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: latency,
		}, []string{"upstream", "outcome"}),
		probeRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "probe_requests_total",
			Help: "Technology probe tile requests by outcome.",
		}, []string{"tech", "outcome"}),
		coverageResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coverage_results_total",
			Help: "Coverage results by data source tier.",
		}, []string{"source"}),
		cacheResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Cache lookups by entry class and outcome.",
		}, []string{"class", "outcome"}),
		cacheOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Cache backend operations by outcome.",
		}, []string{"op", "outcome"}),
		redisOpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis command latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"op"}),
		invalidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "invalidations_total",
			Help: "Cache invalidation events by outcome.",
		}, []string{"outcome"}),
	})
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	c := active.Load()
	if c == nil {
		return
	}
	st := strconv.Itoa(status)
	c.httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	c.httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

// ObserveUpstream records one upstream call; outcome is success, empty or failed.
func ObserveUpstream(upstream, outcome string, durationSeconds float64) {
	if c := active.Load(); c != nil {
		c.upstreamLatencySeconds.WithLabelValues(upstream, outcome).Observe(durationSeconds)
	}
}

func IncProbe(tech, outcome string) {
	if c := active.Load(); c != nil {
		c.probeRequests.WithLabelValues(tech, outcome).Inc()
	}
}

func IncCoverage(source string) {
	if c := active.Load(); c != nil {
		c.coverageResults.WithLabelValues(source).Inc()
	}
}

func IncCacheHit(class string) {
	if c := active.Load(); c != nil {
		c.cacheResults.WithLabelValues(class, "hit").Inc()
	}
}

func IncCacheMiss(class string) {
	if c := active.Load(); c != nil {
		c.cacheResults.WithLabelValues(class, "miss").Inc()
	}
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	c := active.Load()
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.cacheOps.WithLabelValues(op, outcome).Inc()
	c.redisOpDuration.WithLabelValues(op).Observe(durationSeconds)
}

func IncInvalidation(outcome string) {
	if c := active.Load(); c != nil {
		c.invalidations.WithLabelValues(outcome).Inc()
	}
}
