package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Task metrics
	TasksTotal   *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec

	// Pool metrics
	SessionsIdle     prometheus.Gauge
	SessionsBusy     prometheus.Gauge
	SessionsCreating prometheus.Gauge
	PoolWaiters      prometheus.Gauge
	SessionsCreated  prometheus.Counter
	SessionsRetired  *prometheus.CounterVec
	AcquireWait      *prometheus.HistogramVec

	// Outbound fetch metrics
	FetchTotal *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time

	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current values for the JSON health endpoint
type Snapshot struct {
	TotalRequests int64   `json:"total_requests"`
	TotalErrors   int64   `json:"total_errors"`
	TasksOK       int64   `json:"tasks_ok"`
	TasksFailed   int64   `json:"tasks_failed"`
	TotalDuration float64 `json:"-"`
	AvgLatencyMS  float64 `json:"avg_latency_ms"`
}

// NewMetrics creates a metrics collector on its own registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "framerender_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "framerender_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "framerender_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		TasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "framerender_tasks_total",
				Help: "Total number of browser tasks by outcome kind",
			},
			[]string{"kind"},
		),
		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "framerender_task_duration_seconds",
				Help:    "Browser task execution time in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"capture"},
		),

		SessionsIdle: factory.NewGauge(prometheus.GaugeOpts{
			Name: "framerender_pool_sessions_idle",
			Help: "Idle browser sessions",
		}),
		SessionsBusy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "framerender_pool_sessions_busy",
			Help: "Browser sessions currently held by a task",
		}),
		SessionsCreating: factory.NewGauge(prometheus.GaugeOpts{
			Name: "framerender_pool_sessions_creating",
			Help: "Browser sessions being launched",
		}),
		PoolWaiters: factory.NewGauge(prometheus.GaugeOpts{
			Name: "framerender_pool_waiters",
			Help: "Callers waiting for a session",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "framerender_pool_sessions_created_total",
			Help: "Browser sessions launched",
		}),
		SessionsRetired: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "framerender_pool_sessions_retired_total",
				Help: "Browser sessions closed, by reason",
			},
			[]string{"reason"},
		),
		AcquireWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "framerender_pool_acquire_wait_seconds",
				Help:    "Time spent waiting for a session",
				Buckets: []float64{.001, .01, .05, .1, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"outcome"},
		),

		FetchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "framerender_fetch_total",
				Help: "Outbound HTTP fetches by purpose and outcome",
			},
			[]string{"purpose", "outcome"},
		),

		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "framerender_ws_connections",
			Help: "Number of active WebSocket connections",
		}),
	}

	m.Uptime = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "framerender_uptime_seconds",
			Help: "Service uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus exposition handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.TotalDuration += duration.Seconds()
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordTask records a finished browser task. kind is empty on success.
func (m *Metrics) RecordTask(kind, capture string, duration time.Duration) {
	label := kind
	if label == "" {
		label = "ok"
	}
	m.TasksTotal.WithLabelValues(label).Inc()
	m.TaskDuration.WithLabelValues(capture).Observe(duration.Seconds())

	m.mu.Lock()
	if kind == "" {
		m.snapshot.TasksOK++
	} else {
		m.snapshot.TasksFailed++
	}
	m.mu.Unlock()
}

// SetPoolState publishes the pool gauges
func (m *Metrics) SetPoolState(idle, busy, creating, waiting int) {
	m.SessionsIdle.Set(float64(idle))
	m.SessionsBusy.Set(float64(busy))
	m.SessionsCreating.Set(float64(creating))
	m.PoolWaiters.Set(float64(waiting))
}

// IncSessionsCreated increments the launched sessions counter
func (m *Metrics) IncSessionsCreated() {
	m.SessionsCreated.Inc()
}

// IncSessionsRetired increments the retired sessions counter
func (m *Metrics) IncSessionsRetired(reason string) {
	m.SessionsRetired.WithLabelValues(reason).Inc()
}

// ObserveAcquire records how long a caller waited for a session
func (m *Metrics) ObserveAcquire(outcome string, wait time.Duration) {
	m.AcquireWait.WithLabelValues(outcome).Observe(wait.Seconds())
}

// RecordFetch records an outbound HTTP fetch
func (m *Metrics) RecordFetch(purpose, outcome string) {
	m.FetchTotal.WithLabelValues(purpose, outcome).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}

// Snapshot returns a copy of the running totals
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.snapshot
	if s.TotalRequests > 0 {
		s.AvgLatencyMS = s.TotalDuration / float64(s.TotalRequests) * 1000
	}
	return s
}

// UptimeSeconds returns seconds since the collector was created
func (m *Metrics) UptimeSeconds() float64 {
	return time.Since(m.startTime).Seconds()
}
