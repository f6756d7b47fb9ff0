package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for the session lifecycle and the
// pool-health monitor. A single instance is constructed at startup and passed
// to every component; there are no package-level collectors.
type Metrics struct {
	// Session lifecycle metrics
	SessionsCreated    prometheus.Counter
	SessionsEvicted    prometheus.Counter
	SessionsTerminated prometheus.Counter
	SessionsReaped     *prometheus.CounterVec

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Async updater metrics
	HeartbeatsScheduled  prometheus.Counter
	HeartbeatsDropped    prometheus.Counter
	TokenRefreshFailures prometheus.Counter

	// Pool health metrics
	PoolUtilization prometheus.Gauge
	BreakerState    prometheus.Gauge

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates the session-service Prometheus instruments.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "session_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "session_sessions_evicted_total",
			Help: "Total number of sessions evicted by the session limiter",
		}),
		SessionsTerminated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "session_sessions_terminated_total",
			Help: "Total number of sessions terminated via the management API",
		}),
		SessionsReaped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_sessions_reaped_total",
				Help: "Total number of sessions removed or deactivated by the reaper",
			},
			[]string{"tier"},
		),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "session_cache_hits_total",
			Help: "Total number of session cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "session_cache_misses_total",
			Help: "Total number of session cache misses",
		}),
		HeartbeatsScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "session_heartbeats_scheduled_total",
			Help: "Total number of heartbeat tasks scheduled",
		}),
		HeartbeatsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "session_heartbeats_dropped_total",
			Help: "Total number of heartbeat tasks dropped due to a full queue",
		}),
		TokenRefreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "session_token_refresh_failures_total",
			Help: "Total number of token refresh tasks that exhausted their retries",
		}),
		PoolUtilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "session_db_pool_utilization_ratio",
			Help: "Relational store connection pool utilization (acquired/max)",
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "session_db_pool_breaker_open",
			Help: "Pool health circuit breaker state (0 closed, 1 open)",
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "session_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// Register registers all instruments with the given registerer.
func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.SessionsCreated,
		m.SessionsEvicted,
		m.SessionsTerminated,
		m.SessionsReaped,
		m.CacheHits,
		m.CacheMisses,
		m.HeartbeatsScheduled,
		m.HeartbeatsDropped,
		m.TokenRefreshFailures,
		m.PoolUtilization,
		m.BreakerState,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
}
