// Package metrics exports Prometheus collectors for the live event service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing,
// so components can run without instrumentation in tests.
type Metrics struct {
	ConnectionsActive prometheus.Gauge
	EventsSent        *prometheus.CounterVec
	WriteErrors       prometheus.Counter
	TicketsIssued     prometheus.Counter
	TicketValidations *prometheus.CounterVec
	TicketsSwept      prometheus.Counter
	PollCycles        *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in
// tests to avoid duplicate registration against the default registry.
func New(namespace string, reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ConnectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_connections_active",
			Help:      "Currently open live event connections",
		}),
		EventsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_events_sent_total",
			Help:      "Events queued to live connections by type",
		}, []string{"type"}),
		WriteErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_write_errors_total",
			Help:      "Live frames dropped or failed to write",
		}),
		TicketsIssued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_issued_total",
			Help:      "Stream tickets issued",
		}),
		TicketValidations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticket_validations_total",
			Help:      "Stream ticket validations by result",
		}, []string{"result"}),
		TicketsSwept: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_swept_total",
			Help:      "Used or expired tickets reclaimed by the sweep",
		}),
		PollCycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_poll_cycles_total",
			Help:      "Change-detection poll cycles by result",
		}, []string{"result"}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.ConnectionsActive.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.ConnectionsActive.Dec()
	}
}

func (m *Metrics) EventSent(eventType string) {
	if m != nil {
		m.EventsSent.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) WriteFailed() {
	if m != nil {
		m.WriteErrors.Inc()
	}
}

func (m *Metrics) TicketIssued() {
	if m != nil {
		m.TicketsIssued.Inc()
	}
}

// TicketValidated records a validation outcome ("ok", "invalid", "error").
func (m *Metrics) TicketValidated(result string) {
	if m != nil {
		m.TicketValidations.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) TicketsReclaimed(n int) {
	if m != nil && n > 0 {
		m.TicketsSwept.Add(float64(n))
	}
}

// PollCycle records a poll outcome ("ok", "error").
func (m *Metrics) PollCycle(result string) {
	if m != nil {
		m.PollCycles.WithLabelValues(result).Inc()
	}
}
