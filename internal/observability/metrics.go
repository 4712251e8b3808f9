package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors exported at /metrics.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errorCount      *prometheus.CounterVec

	directoryRequests *prometheus.CounterVec
	directoryDuration *prometheus.HistogramVec
	directoryRetries  *prometheus.CounterVec
	breakerState      *prometheus.GaugeVec

	executions    *prometheus.CounterVec
	auditFailures *prometheus.CounterVec
}

// NewMetrics registers collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requestCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "helpdesk_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		errorCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_http_errors_total",
			Help: "Error responses by route and error code.",
		}, []string{"route", "method", "code"}),
		directoryRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_directory_requests_total",
			Help: "Directory API sends by method and status (0 for transport failures).",
		}, []string{"method", "status"}),
		directoryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "helpdesk_directory_request_duration_seconds",
			Help:    "Directory API send latency.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"method"}),
		directoryRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_directory_retries_total",
			Help: "Directory API retries by reason.",
		}, []string{"reason"}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "helpdesk_directory_circuit_state",
			Help: "Directory circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"name"}),
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_task_executions_total",
			Help: "Privileged task execution attempts by kind and outcome.",
		}, []string{"kind", "outcome"}),
		auditFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_audit_write_failures_total",
			Help: "Audit sink append failures by sink.",
		}, []string{"sink"}),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestCount.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(route, method, code string) {
	if m == nil {
		return
	}
	m.errorCount.WithLabelValues(route, method, code).Inc()
}

// RecordDirectoryCall observes one HTTP send to the directory API.
func (m *Metrics) RecordDirectoryCall(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.directoryRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.directoryDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordDirectoryRetry counts a retry scheduled for reason.
func (m *Metrics) RecordDirectoryRetry(reason string) {
	if m == nil {
		return
	}
	m.directoryRetries.WithLabelValues(reason).Inc()
}

// SetBreakerState publishes the circuit breaker state.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(float64(state))
}

// RecordExecution counts a finished execution attempt.
func (m *Metrics) RecordExecution(kind, outcome string) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(kind, outcome).Inc()
}

// RecordAuditFailure counts a failed append on sink.
func (m *Metrics) RecordAuditFailure(sink string) {
	if m == nil {
		return
	}
	m.auditFailures.WithLabelValues(sink).Inc()
}
