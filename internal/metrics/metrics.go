package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tasktrail"

// Metrics holds the process counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	AuditEntries *prometheus.CounterVec
	AuditErrors  prometheus.Counter
	Denials      *prometheus.CounterVec
	AuthFailures *prometheus.CounterVec
	Requests     *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		AuditEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_entries_total",
			Help:      "Audit entries recorded, by action and entity kind.",
		}, []string{"action", "entity_kind"}),
		AuditErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_errors_total",
			Help:      "Audit records that failed after the mutation committed.",
		}),
		Denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorization_denials_total",
			Help:      "Forbidden outcomes, by role and operation class.",
		}, []string{"role", "operation"}),
		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authentication_failures_total",
			Help:      "Rejected credentials, by reason.",
		}, []string{"reason"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests, by method and status code.",
		}, []string{"method", "code"}),
	}
	reg.MustRegister(
		m.AuditEntries, m.AuditErrors, m.Denials, m.AuthFailures, m.Requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) AuditRecorded(action, entityKind string) {
	if m == nil {
		return
	}
	m.AuditEntries.WithLabelValues(action, entityKind).Inc()
}

func (m *Metrics) AuditFailed() {
	if m == nil {
		return
	}
	m.AuditErrors.Inc()
}

func (m *Metrics) Denied(role, operation string) {
	if m == nil {
		return
	}
	m.Denials.WithLabelValues(role, operation).Inc()
}

func (m *Metrics) AuthFailed(reason string) {
	if m == nil {
		return
	}
	m.AuthFailures.WithLabelValues(reason).Inc()
}

// InstrumentHandler counts requests served by next.
func (m *Metrics) InstrumentHandler(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return promhttp.InstrumentHandlerCounter(m.Requests, next)
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
