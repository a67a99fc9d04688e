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

// Metrics holds all Prometheus metrics.
//
// Every method is safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive prometheus.Gauge
	LinesSubmitted prometheus.Counter
	BuiltinCalls   *prometheus.CounterVec

	// Job metrics
	JobsSpawned   *prometheus.CounterVec
	SpawnFailures *prometheus.CounterVec
	JobsReaped    *prometheus.CounterVec
	JobsActive    *prometheus.GaugeVec
	BytesPumped   *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot
	mu       sync.RWMutex
}

// MetricsSnapshot holds current metric values for the JSON health API.
type MetricsSnapshot struct {
	TotalRequests     int64   `json:"total_requests"`
	TotalErrors       int64   `json:"total_errors"`
	ActiveSessions    int64   `json:"active_sessions"`
	ActiveConnections int64   `json:"active_connections"`
	JobsSpawned       int64   `json:"jobs_spawned"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// NewMetrics creates a metrics collector backed by its own registry.
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

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termcore_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "termcore_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		// Session metrics
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "termcore_sessions_active",
				Help: "Number of open shell sessions",
			},
		),
		LinesSubmitted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termcore_lines_submitted_total",
				Help: "Total number of submitted command lines",
			},
		),
		BuiltinCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termcore_builtin_calls_total",
				Help: "Total number of built-in command invocations",
			},
			[]string{"name"},
		),

		// Job metrics
		JobsSpawned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termcore_jobs_spawned_total",
				Help: "Total number of jobs started",
			},
			[]string{"kind"},
		),
		SpawnFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termcore_spawn_failures_total",
				Help: "Total number of pipelines that failed to start",
			},
			[]string{"op"},
		),
		JobsReaped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termcore_jobs_reaped_total",
				Help: "Total number of finished jobs",
			},
			[]string{"outcome"},
		),
		JobsActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "termcore_jobs_active",
				Help: "Number of live jobs",
			},
			[]string{"state"},
		),
		BytesPumped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termcore_output_bytes_total",
				Help: "Total bytes read from job output streams",
			},
			[]string{"stream"},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "termcore_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termcore_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "termcore_uptime_seconds",
			Help: "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the registry all metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Snapshot returns the current values tracked for the JSON API.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snapshot
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// SetSessionsActive sets the number of open sessions
func (m *Metrics) SetSessionsActive(count int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveSessions = int64(count)
	m.mu.Unlock()
}

// IncLinesSubmitted counts one submitted line.
func (m *Metrics) IncLinesSubmitted() {
	if m == nil {
		return
	}
	m.LinesSubmitted.Inc()
}

// RecordBuiltin counts one built-in invocation.
func (m *Metrics) RecordBuiltin(name string) {
	if m == nil {
		return
	}
	m.BuiltinCalls.WithLabelValues(name).Inc()
}

// RecordSpawn counts a started job of the given kind.
func (m *Metrics) RecordSpawn(kind string) {
	if m == nil {
		return
	}
	m.JobsSpawned.WithLabelValues(kind).Inc()
	m.mu.Lock()
	m.snapshot.JobsSpawned++
	m.mu.Unlock()
}

// RecordSpawnFailure counts a pipeline that could not be started.
func (m *Metrics) RecordSpawnFailure(op string) {
	if m == nil {
		return
	}
	m.SpawnFailures.WithLabelValues(op).Inc()
}

// RecordReap counts a finished job by exit code.
func (m *Metrics) RecordReap(code int) {
	if m == nil {
		return
	}
	outcome := "success"
	switch {
	case code > 128:
		outcome = "signaled"
	case code != 0:
		outcome = "failure"
	}
	m.JobsReaped.WithLabelValues(outcome).Inc()
}

// SetJobsActive sets the live job gauge for state ("foreground" or
// "background").
func (m *Metrics) SetJobsActive(state string, count int) {
	if m == nil {
		return
	}
	m.JobsActive.WithLabelValues(state).Set(float64(count))
}

// AddBytesPumped counts bytes read from a job stream.
func (m *Metrics) AddBytesPumped(stream string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesPumped.WithLabelValues(stream).Add(float64(n))
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}
