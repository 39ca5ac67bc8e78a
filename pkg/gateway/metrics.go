package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instrumentation for the gateway.
// A nil *Metrics is valid and records nothing, so tests and embedders
// that don't care about metrics can pass nil everywhere.
type Metrics struct {
	activeConnections prometheus.Gauge
	registrations     prometheus.Counter
	deregistrations   prometheus.Counter
	dispatches        *prometheus.CounterVec
	delivered         prometheus.Counter
	dropped           prometheus.Counter
	heartbeats        prometheus.Counter
	protocolErrors    prometheus.Counter
}

// NewMetrics registers the gateway metrics with the given registerer.
// Pass prometheus.DefaultRegisterer for the usual global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "together",
			Subsystem: "gateway",
			Name:      "active_connections",
			Help:      "Number of currently registered sessions",
		}),

		registrations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "together",
			Subsystem: "gateway",
			Name:      "registrations_total",
			Help:      "Total number of session registrations",
		}),

		deregistrations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "together",
			Subsystem: "gateway",
			Name:      "deregistrations_total",
			Help:      "Total number of session deregistrations",
		}),

		dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "together",
			Subsystem: "gateway",
			Name:      "dispatches_total",
			Help:      "Total number of dispatched events by event name",
		}, []string{"event"}),

		delivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "together",
			Subsystem: "gateway",
			Name:      "messages_delivered_total",
			Help:      "Total number of messages enqueued to live sessions",
		}),

		dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "together",
			Subsystem: "gateway",
			Name:      "messages_dropped_total",
			Help:      "Total number of messages dropped for offline or closed sessions",
		}),

		heartbeats: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "together",
			Subsystem: "gateway",
			Name:      "heartbeats_total",
			Help:      "Total number of client heartbeats received",
		}),

		protocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "together",
			Subsystem: "gateway",
			Name:      "protocol_errors_total",
			Help:      "Total number of connections closed for protocol violations",
		}),
	}
}

// RecordRegister records a session registration and the new active count.
func (m *Metrics) RecordRegister(active int) {
	if m == nil {
		return
	}
	m.registrations.Inc()
	m.activeConnections.Set(float64(active))
}

// RecordDeregister records a session deregistration and the new active count.
func (m *Metrics) RecordDeregister(active int) {
	if m == nil {
		return
	}
	m.deregistrations.Inc()
	m.activeConnections.Set(float64(active))
}

// RecordDispatch records a dispatched event by name.
func (m *Metrics) RecordDispatch(event string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(event).Inc()
}

// RecordDelivered records messages enqueued to live sessions.
func (m *Metrics) RecordDelivered(n int) {
	if m == nil || n == 0 {
		return
	}
	m.delivered.Add(float64(n))
}

// RecordDropped records messages dropped for offline recipients.
func (m *Metrics) RecordDropped(n int) {
	if m == nil || n == 0 {
		return
	}
	m.dropped.Add(float64(n))
}

// RecordHeartbeat records a client heartbeat.
func (m *Metrics) RecordHeartbeat() {
	if m == nil {
		return
	}
	m.heartbeats.Inc()
}

// RecordProtocolError records a connection closed for a protocol violation.
func (m *Metrics) RecordProtocolError() {
	if m == nil {
		return
	}
	m.protocolErrors.Inc()
}
