package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons reported on the frames_dropped_total metric.
const (
	dropNotConnected = "not_connected"
	dropEncode       = "encode"
	dropWrite        = "write"
)

// Kinds reported on the frames_received_total metric.
const (
	kindChat      = "chat"
	kindIgnored   = "ignored"
	kindMalformed = "malformed"
)

// Metrics holds the Prometheus collectors of a Manager.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	state               prometheus.Gauge
	connectAttempts     *prometheus.CounterVec
	reconnectsScheduled prometheus.Counter
	framesSent          prometheus.Counter
	framesDropped       *prometheus.CounterVec
	framesReceived      *prometheus.CounterVec
}

// NewMetrics registers the relay collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		state: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "connection_state",
			Help:      "Current connection state (0 disconnected, 1 connecting, 2 connected, 3 shutting down)",
		}),
		connectAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "connect_attempts_total",
			Help:      "Connection attempts by result",
		}, []string{"result"}),
		reconnectsScheduled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect attempts scheduled after a failure",
		}),
		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "frames_sent_total",
			Help:      "Frames written to the peer",
		}),
		framesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "frames_dropped_total",
			Help:      "Outbound messages that were not written, by reason",
		}, []string{"reason"}),
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "frames_received_total",
			Help:      "Frames read from the peer, by decoded kind",
		}, []string{"kind"}),
	}
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}

func (m *Metrics) connectAttempt(ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.connectAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) reconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnectsScheduled.Inc()
}

func (m *Metrics) sent() {
	if m == nil {
		return
	}
	m.framesSent.Inc()
}

func (m *Metrics) dropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) received(kind string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(kind).Inc()
}

// State returns the connection state gauge.
func (m *Metrics) State() prometheus.Gauge {
	return m.state
}

// ConnectAttempts returns the attempt counter for result "success" or "failure".
func (m *Metrics) ConnectAttempts(result string) prometheus.Counter {
	return m.connectAttempts.WithLabelValues(result)
}

// ReconnectsScheduled returns the reconnect counter.
func (m *Metrics) ReconnectsScheduled() prometheus.Counter {
	return m.reconnectsScheduled
}

// FramesSent returns the sent-frame counter.
func (m *Metrics) FramesSent() prometheus.Counter {
	return m.framesSent
}

// FramesDropped returns the dropped-message counter for reason.
func (m *Metrics) FramesDropped(reason string) prometheus.Counter {
	return m.framesDropped.WithLabelValues(reason)
}

// FramesReceived returns the received-frame counter for kind.
func (m *Metrics) FramesReceived(kind string) prometheus.Counter {
	return m.framesReceived.WithLabelValues(kind)
}
