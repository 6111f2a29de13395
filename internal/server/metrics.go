package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "groupchat"

// Metrics holds the Prometheus collectors for the hub and its sessions.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	eventsEnqueued   prometheus.Counter
	eventsDelivered  prometheus.Counter
	eventsDiscarded  prometheus.Counter
	deliveryFailures prometheus.Counter
	liveSessions     prometheus.Gauge
	groupMembers     prometheus.Gauge
	logins           *prometheus.CounterVec
	sessionsClosed   *prometheus.CounterVec
	commands         *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		eventsEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_enqueued_total",
			Help:      "Outbound events appended to recipient queues",
		}),
		eventsDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_delivered_total",
			Help:      "Outbound events written to a live connection",
		}),
		eventsDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_discarded_total",
			Help:      "Queued events dropped because their recipient left the group",
		}),
		deliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "delivery_failures_total",
			Help:      "Writes that failed and marked the recipient connection not live",
		}),
		liveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "live_sessions",
			Help:      "Identities with a live connection",
		}),
		groupMembers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "group_members",
			Help:      "Identities currently in the group",
		}),
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "logins_total",
			Help:      "Login attempts by result",
		}, []string{"result"}),
		sessionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_closed_total",
			Help:      "Terminated sessions by reason",
		}, []string{"reason"}),
		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commands_total",
			Help:      "Client commands handled by kind",
		}, []string{"command"}),
	}
}

func (m *Metrics) enqueued(n int) {
	if m != nil && n > 0 {
		m.eventsEnqueued.Add(float64(n))
	}
}

func (m *Metrics) delivered() {
	if m != nil {
		m.eventsDelivered.Inc()
	}
}

func (m *Metrics) discarded(n int) {
	if m != nil && n > 0 {
		m.eventsDiscarded.Add(float64(n))
	}
}

func (m *Metrics) deliveryFailed() {
	if m != nil {
		m.deliveryFailures.Inc()
	}
}

func (m *Metrics) setLive(n int) {
	if m != nil {
		m.liveSessions.Set(float64(n))
	}
}

func (m *Metrics) setMembers(n int) {
	if m != nil {
		m.groupMembers.Set(float64(n))
	}
}

func (m *Metrics) login(result string) {
	if m != nil {
		m.logins.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) sessionClosed(reason string) {
	if m != nil {
		m.sessionsClosed.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) command(name string) {
	if m != nil {
		m.commands.WithLabelValues(name).Inc()
	}
}
