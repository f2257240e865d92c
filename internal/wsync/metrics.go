package wsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts ws sync traffic. A nil *Metrics records nothing.
type Metrics struct {
	sent      *prometheus.CounterVec
	received  *prometheus.CounterVec
	malformed prometheus.Counter
	pings     prometheus.Counter
}

// NewMetrics registers the sync counters on reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		sent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "revsync_ws_messages_sent_total",
			Help: "Messages sent to the server by type",
		}, []string{"type"}),
		received: f.NewCounterVec(prometheus.CounterOpts{
			Name: "revsync_ws_messages_received_total",
			Help: "Messages received from the server by type",
		}, []string{"type"}),
		malformed: f.NewCounter(prometheus.CounterOpts{
			Name: "revsync_ws_malformed_total",
			Help: "Inbound messages dropped because they could not be decoded",
		}),
		pings: f.NewCounter(prometheus.CounterOpts{
			Name: "revsync_ws_pings_total",
			Help: "Ping messages sent because nothing was pending",
		}),
	}
}

func (m *Metrics) messageSent(t ClientDataType) {
	if m == nil {
		return
	}
	m.sent.WithLabelValues(string(t)).Inc()
	if t == ClientPing {
		m.pings.Inc()
	}
}

func (m *Metrics) messageReceived(t ServerDataType) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) malformedMessage() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}
