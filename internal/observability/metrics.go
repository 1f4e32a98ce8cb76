package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/sensor-dashboard/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Snapshots applied from the feed. Watch for: flatline (sensor or feed stalled).
	FeedSnapshotsTotal prometheus.Counter

	// Feed subscription failures by category. Any increase means the dashboard stopped updating.
	FeedErrorsTotal *prometheus.CounterVec

	// 1 while the feed subscription is healthy, 0 after a failure or before the first snapshot.
	FeedConnected prometheus.Gauge

	// Records dropped during normalization (malformed or non-finite temperature).
	RecordsDroppedTotal prometheus.Counter

	// Records whose timestamp could not be parsed and fell back to receipt time.
	TimestampFallbacksTotal prometheus.Counter

	// Points currently held by the store.
	StorePoints prometheus.Gauge

	// Page-view cache hits and misses. Hit rate = hits/(hits+misses).
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// History page builds answered by a concurrent build of the same page instead of recomputing.
	HistoryBuildsCoalescedTotal prometheus.Counter

	// Page-view cache backend errors by operation. Errors fall through to recomputation.
	CacheErrorsTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	FeedSnapshotsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "feedSnapshotsTotal",
			Help: "Total number of feed snapshots applied to the dashboard",
		},
	)
	FeedErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedErrorsTotal",
			Help: "Feed subscription failures by category",
		},
		[]string{"category"},
	)
	FeedConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedConnected",
			Help: "1 when the feed subscription is delivering snapshots, 0 otherwise",
		},
	)
	RecordsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "recordsDroppedTotal",
			Help: "Total number of feed records dropped during normalization",
		},
	)
	TimestampFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "timestampFallbacksTotal",
			Help: "Total number of records whose timestamp fell back to receipt time",
		},
	)
	StorePoints = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "storePoints",
			Help: "Number of normalized points in the current store",
		},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of page-view cache hits",
		},
		[]string{"cacheType"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of page-view cache misses",
		},
		[]string{"cacheType"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Page-view cache backend errors by operation",
		},
		[]string{"operation"},
	)
	HistoryBuildsCoalescedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "historyBuildsCoalescedTotal",
			Help: "History page requests that waited on an identical in-flight build",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		FeedSnapshotsTotal, FeedErrorsTotal, FeedConnected,
		RecordsDroppedTotal, TimestampFallbacksTotal, StorePoints,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal, HistoryBuildsCoalescedTotal,
		RateLimitDeniedTotal,
	)
}

// RegisterRateLimitGauges registers load and rejects gauges for the rate-limited path.
// Call from main after config load with cfg.OverloadWindow. Uses same window as the health check.
func RegisterRateLimitGauges(window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window; load/capacity planning",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
		)
	})
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
