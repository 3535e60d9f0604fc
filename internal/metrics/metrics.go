package metrics

import (
	"net/http"
	"time"

	"github.com/phqovo/slimming/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// RequestLatency tracks HTTP request latency by endpoint and method
	RequestLatency *prometheus.HistogramVec
	// HTTPRequestsTotal total HTTP requests
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTPRequestsInFlight current HTTP requests being processed
	HTTPRequestsInFlight prometheus.Gauge
	// ErrorCounter counts errors by type and endpoint
	ErrorCounter *prometheus.CounterVec
	// SyncRunsTotal counts sync runs by category and terminal status
	SyncRunsTotal *prometheus.CounterVec
	// SyncRunDuration tracks sync run duration by category
	SyncRunDuration *prometheus.HistogramVec
	// SyncRecordsInserted counts records persisted per category
	SyncRecordsInserted *prometheus.CounterVec
	// SyncBusyTotal counts runs rejected because the lock was held
	SyncBusyTotal *prometheus.CounterVec
	// ScheduledJobs tracks the number of registered scheduler jobs
	ScheduledJobs prometheus.Gauge
	// SessionRefreshes counts platform session refreshes
	SessionRefreshes prometheus.Counter
	// registry is the custom registry for this metrics instance
	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_latency_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		ErrorCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"type", "endpoint", "method"},
		),
		SyncRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_runs_total",
				Help:      "Total number of sync runs by terminal status",
			},
			[]string{"category", "status"},
		),
		SyncRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_run_duration_seconds",
				Help:      "Sync run duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"category"},
		),
		SyncRecordsInserted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_records_inserted_total",
				Help:      "Total number of external records persisted",
			},
			[]string{"category"},
		),
		SyncBusyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_busy_total",
				Help:      "Sync runs rejected because one was already in progress",
			},
			[]string{"category"},
		),
		ScheduledJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scheduled_jobs",
				Help:      "Number of registered scheduler jobs",
			},
		),
		SessionRefreshes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_refreshes_total",
				Help:      "Total number of platform session refreshes",
			},
		),
	}

	// Register metrics with custom registry
	registry.MustRegister(
		m.RequestLatency,
		m.HTTPRequestsTotal,
		m.HTTPRequestsInFlight,
		m.ErrorCounter,
		m.SyncRunsTotal,
		m.SyncRunDuration,
		m.SyncRecordsInserted,
		m.SyncBusyTotal,
		m.ScheduledJobs,
		m.SessionRefreshes,
	)

	return m
}

// Handler returns a Prometheus handler for these metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequestLatency records the latency of an HTTP request
func (m *Metrics) RecordRequestLatency(endpoint, method, status string, durationSeconds float64) {
	m.RequestLatency.WithLabelValues(endpoint, method, status).Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint, method, status string) {
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// IncHTTPRequestsInFlight increments the in-flight requests counter
func (m *Metrics) IncHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Inc()
}

// DecHTTPRequestsInFlight decrements the in-flight requests counter
func (m *Metrics) DecHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Dec()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, endpoint, method string) {
	m.ErrorCounter.WithLabelValues(errorType, endpoint, method).Inc()
}

// ObserveRun records a terminal sync run outcome. It satisfies the
// orchestrator's Observer interface.
func (m *Metrics) ObserveRun(category models.Category, status models.RunStatus, duration time.Duration, records int) {
	m.SyncRunsTotal.WithLabelValues(string(category), string(status)).Inc()
	m.SyncRunDuration.WithLabelValues(string(category)).Observe(duration.Seconds())
	if records > 0 {
		m.SyncRecordsInserted.WithLabelValues(string(category)).Add(float64(records))
	}
}

// RecordBusy records a run rejected on lock contention
func (m *Metrics) RecordBusy(category models.Category) {
	m.SyncBusyTotal.WithLabelValues(string(category)).Inc()
}

// SetScheduledJobs sets the current scheduler job count
func (m *Metrics) SetScheduledJobs(count int) {
	m.ScheduledJobs.Set(float64(count))
}

// RecordSessionRefresh records a platform session refresh
func (m *Metrics) RecordSessionRefresh() {
	m.SessionRefreshes.Inc()
}
