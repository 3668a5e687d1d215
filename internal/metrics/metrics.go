// Package metrics exposes Prometheus collectors for the portal.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the portal's collectors on a dedicated registry.
type Metrics struct {
	Registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	guardDecisions     *prometheus.CounterVec
	sessionTransitions *prometheus.CounterVec
	sessionFailures    prometheus.Counter
	activeVisitors     prometheus.Gauge

	recordFetches   *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	staleDeliveries *prometheus.CounterVec
}

// New creates and registers all collectors under namespace.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "communicity"
	}

	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"service", "method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"service", "method", "path"}),
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "decisions_total",
			Help:      "Route guard outcomes by policy and result.",
		}, []string{"policy", "outcome"}),
		sessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Authentication transitions observed by session caches.",
		}, []string{"kind"}),
		sessionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "lookup_failures_total",
			Help:      "Identity provider lookups that failed with a transport error.",
		}),
		activeVisitors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active_visitors",
			Help:      "Visitors with a live session cache.",
		}),
		recordFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hierarchy",
			Name:      "fetches_total",
			Help:      "Child record fetches by level and outcome.",
		}, []string{"level", "outcome"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "hierarchy",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of child record fetches.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"level"}),
		staleDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hierarchy",
			Name:      "stale_results_dropped_total",
			Help:      "Fetch results discarded because a newer request or teardown superseded them.",
		}, []string{"level"}),
	}

	m.Registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.guardDecisions,
		m.sessionTransitions,
		m.sessionFailures,
		m.activeVisitors,
		m.recordFetches,
		m.fetchDuration,
		m.staleDeliveries,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncrementInFlight() { m.httpInFlight.Inc() }
func (m *Metrics) DecrementInFlight() { m.httpInFlight.Dec() }

// RecordHTTPRequest records one completed request.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.httpRequests.WithLabelValues(service, method, path, status).Inc()
	m.httpDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordGuardDecision counts one guard evaluation. outcome is "render", "loading" or the redirect target.
func (m *Metrics) RecordGuardDecision(policy, outcome string) {
	m.guardDecisions.WithLabelValues(policy, outcome).Inc()
}

// RecordSessionTransition counts sign-in, sign-out and refresh transitions.
func (m *Metrics) RecordSessionTransition(kind string) {
	m.sessionTransitions.WithLabelValues(kind).Inc()
}

// RecordSessionLookupFailure counts provider failures reported to diagnostics.
func (m *Metrics) RecordSessionLookupFailure() {
	m.sessionFailures.Inc()
}

// SetActiveVisitors sets the live session cache gauge.
func (m *Metrics) SetActiveVisitors(n int) {
	m.activeVisitors.Set(float64(n))
}

// RecordFetch records a child fetch. outcome is "ok", "empty" or "error".
func (m *Metrics) RecordFetch(level, outcome string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Microsecond
	}
	m.recordFetches.WithLabelValues(level, outcome).Inc()
	m.fetchDuration.WithLabelValues(level).Observe(duration.Seconds())
}

// RecordStaleDelivery counts a result dropped by the generation check.
func (m *Metrics) RecordStaleDelivery(level string) {
	m.staleDeliveries.WithLabelValues(level).Inc()
}
