// Package metrics provides Prometheus metrics for the schema registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the registry.
type Metrics struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Registry metrics
	RegistrationsTotal  *prometheus.CounterVec
	CompatibilityChecks *prometheus.CounterVec
	ForwardedRequests   *prometheus.CounterVec

	// Leadership metrics
	IsLeader          prometheus.Gauge
	LeaderTransitions prometheus.Counter

	// Log store metrics
	LogRecordsApplied prometheus.Counter
	LogProduceLatency prometheus.Histogram
	LogProduceErrors  prometheus.Counter

	registry *prometheus.Registry
}

// New creates a Metrics instance with all collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schema_registry_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "schema_registry_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.RequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "schema_registry_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	m.RegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schema_registry_registrations_total",
			Help: "Total number of schema registrations",
		},
		[]string{"type", "status"},
	)

	m.CompatibilityChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schema_registry_compatibility_checks_total",
			Help: "Total number of compatibility checks",
		},
		[]string{"type", "result"},
	)

	m.ForwardedRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schema_registry_forwarded_requests_total",
			Help: "Total number of requests forwarded to the leader",
		},
		[]string{"operation", "status"},
	)

	m.IsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "schema_registry_leader",
			Help: "1 when this node is the elected leader, 0 otherwise",
		},
	)

	m.LeaderTransitions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "schema_registry_leader_transitions_total",
			Help: "Number of observed leader changes",
		},
	)

	m.LogRecordsApplied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "schema_registry_log_records_applied_total",
			Help: "Number of log records applied to the lookup cache",
		},
	)

	m.LogProduceLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "schema_registry_log_produce_latency_seconds",
			Help:    "Latency of writes to the log topic in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	m.LogProduceErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "schema_registry_log_produce_errors_total",
			Help: "Number of failed writes to the log topic",
		},
	)

	m.registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.RegistrationsTotal,
		m.CompatibilityChecks,
		m.ForwardedRequests,
		m.IsLeader,
		m.LeaderTransitions,
		m.LogRecordsApplied,
		m.LogProduceLatency,
		m.LogProduceErrors,
	)

	m.registry.MustRegister(prometheus.NewGoCollector())
	m.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Middleware records request counts and latency per normalized route.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		m.RequestsInFlight.Inc()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		m.RequestsInFlight.Dec()
		path := normalizePath(r.URL.Path)
		m.RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath collapses path parameters to keep label cardinality bounded.
func normalizePath(path string) string {
	switch {
	case startsWith(path, "/subjects/") && contains(path, "/versions/"):
		return "/subjects/{subject}/versions/{version}"
	case startsWith(path, "/subjects/") && endsWith(path, "/versions"):
		return "/subjects/{subject}/versions"
	case startsWith(path, "/subjects/"):
		return "/subjects/{subject}"
	case startsWith(path, "/schemas/ids/"):
		return "/schemas/ids/{id}"
	case startsWith(path, "/config/"):
		return "/config/{subject}"
	case startsWith(path, "/mode/"):
		return "/mode/{subject}"
	case startsWith(path, "/compatibility/subjects/"):
		return "/compatibility/subjects/{subject}/versions/{version}"
	}
	return path
}

func startsWith(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func endsWith(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func contains(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// RecordRegistration records a schema registration attempt.
func (m *Metrics) RecordRegistration(schemaType string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.RegistrationsTotal.WithLabelValues(schemaType, status).Inc()
}

// RecordCompatibilityCheck records a compatibility check result.
func (m *Metrics) RecordCompatibilityCheck(schemaType string, compatible bool) {
	result := "compatible"
	if !compatible {
		result = "incompatible"
	}
	m.CompatibilityChecks.WithLabelValues(schemaType, result).Inc()
}

// RecordForward records a request forwarded to the leader.
func (m *Metrics) RecordForward(operation string, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.ForwardedRequests.WithLabelValues(operation, status).Inc()
}

// SetLeader flags whether this node currently leads, counting transitions
// into leadership.
func (m *Metrics) SetLeader(leader bool) {
	if leader {
		m.IsLeader.Set(1)
	} else {
		m.IsLeader.Set(0)
	}
	m.LeaderTransitions.Inc()
}
