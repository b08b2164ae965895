package gomoos

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are Prometheus collectors for a client. A nil *Metrics records nothing.
type Metrics struct {
	messagesSent      prometheus.Counter
	messagesReceived  prometheus.Counter
	packetsSent       prometheus.Counter
	packetsReceived   prometheus.Counter
	reconnects        prometheus.Counter
	handshakeFailures prometheus.Counter
	dropped           *prometheus.CounterVec
	queueDepth        *prometheus.GaugeVec
	connected         prometheus.Gauge
	listenerErrors    prometheus.Counter
}

// NewMetrics registers client metrics with reg, or the default registerer if nil.
// Labels are added to every metric.
func NewMetrics(reg prometheus.Registerer, labels prometheus.Labels) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	const ns = "moos"

	return &Metrics{
		messagesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "client",
			Name:        "messages_sent_total",
			Help:        "Messages sent to the broker.",
			ConstLabels: labels,
		}),
		messagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "client",
			Name:        "messages_received_total",
			Help:        "Messages received from the broker.",
			ConstLabels: labels,
		}),
		packetsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "client",
			Name:        "packets_sent_total",
			Help:        "Packets sent to the broker.",
			ConstLabels: labels,
		}),
		packetsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "client",
			Name:        "packets_received_total",
			Help:        "Packets received from the broker.",
			ConstLabels: labels,
		}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "client",
			Name:        "reconnects_total",
			Help:        "Connection cycles started after a lost connection.",
			ConstLabels: labels,
		}),
		handshakeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "client",
			Name:        "handshake_failures_total",
			Help:        "Handshakes refused by the broker or timed out.",
			ConstLabels: labels,
		}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "client",
			Name:        "messages_dropped_total",
			Help:        "Messages dropped because a queue overflowed.",
			ConstLabels: labels,
		}, []string{"queue"}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   "client",
			Name:        "queue_depth",
			Help:        "Messages waiting in the outbox or inbox.",
			ConstLabels: labels,
		}, []string{"queue"}),
		connected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   "client",
			Name:        "connected",
			Help:        "1 while the handshake is complete and the connection is up.",
			ConstLabels: labels,
		}),
		listenerErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "events",
			Name:        "listener_errors_total",
			Help:        "Listener calls that returned an error or panicked.",
			ConstLabels: labels,
		}),
	}
}

func (m *Metrics) sent(n int) {
	if m == nil {
		return
	}
	m.packetsSent.Inc()
	m.messagesSent.Add(float64(n))
}

func (m *Metrics) received(n int) {
	if m == nil {
		return
	}
	m.packetsReceived.Inc()
	m.messagesReceived.Add(float64(n))
}

func (m *Metrics) reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) handshakeFailed() {
	if m == nil {
		return
	}
	m.handshakeFailures.Inc()
}

func (m *Metrics) evicted(queue string, n int) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(queue).Add(float64(n))
}

func (m *Metrics) outboxDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues("outbox").Set(float64(n))
}

func (m *Metrics) inboxDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues("inbox").Set(float64(n))
}

func (m *Metrics) state(s State) {
	if m == nil {
		return
	}
	if s == Connected {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

func (m *Metrics) listenerFailed() {
	if m == nil {
		return
	}
	m.listenerErrors.Inc()
}
