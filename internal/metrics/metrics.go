// Package metrics provides Prometheus instrumentation for the Perimeter gateway.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "perimeter",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "perimeter",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// RateLimitDecisions counts rate-limit checks by outcome.
	RateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "perimeter",
			Name:      "ratelimit_decisions_total",
			Help:      "Total rate-limit decisions by backend and outcome.",
		},
		[]string{"backend", "allowed"},
	)

	// QuotaConsumptionsTotal counts ledger consume attempts by outcome.
	QuotaConsumptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "perimeter",
			Name:      "quota_consumptions_total",
			Help:      "Total quota consume attempts by resource type and outcome.",
		},
		[]string{"resource_type", "outcome"},
	)

	// QuotaAlertsTotal counts alerts emitted by the enforcer.
	QuotaAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "perimeter",
			Name:      "quota_alerts_total",
			Help:      "Total quota alerts emitted by alert type.",
		},
		[]string{"alert_type"},
	)

	// QuotaAutoScalesTotal counts auto-scale policy mutations.
	QuotaAutoScalesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "perimeter",
			Name:      "quota_autoscales_total",
			Help:      "Total auto-scale events by resource type and result.",
		},
		[]string{"resource_type", "result"},
	)

	// ProxyRequestsTotal counts proxied backend requests by service and outcome.
	ProxyRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "perimeter",
			Name:      "proxy_requests_total",
			Help:      "Total proxied requests by backend service and outcome.",
		},
		[]string{"service", "outcome"},
	)

	// ProxyLatency observes end-to-end backend call latency.
	ProxyLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "perimeter",
			Name:      "proxy_latency_seconds",
			Help:      "Backend call latency in seconds by service.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	// CacheHitsTotal counts response cache lookups by result.
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "perimeter",
			Name:      "response_cache_lookups_total",
			Help:      "Total response cache lookups by result (hit/miss).",
		},
		[]string{"result"},
	)

	// AnalyticsDroppedTotal counts analytics records dropped on queue overflow.
	AnalyticsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "perimeter",
		Name:      "analytics_dropped_total",
		Help:      "Total analytics records dropped because the queue was full.",
	})

	// AnalyticsQueueDepth tracks the current analytics queue depth.
	AnalyticsQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "perimeter",
		Name:      "analytics_queue_depth",
		Help:      "Current number of analytics records waiting to be persisted.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "perimeter", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "perimeter", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "perimeter", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "perimeter", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "perimeter", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "perimeter", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		RateLimitDecisions,
		QuotaConsumptionsTotal,
		QuotaAlertsTotal,
		QuotaAutoScalesTotal,
		ProxyRequestsTotal,
		ProxyLatency,
		CacheHitsTotal,
		AnalyticsDroppedTotal,
		AnalyticsQueueDepth,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
