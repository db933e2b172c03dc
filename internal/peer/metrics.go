package peer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of a Hub. A nil *Metrics records nothing.
type Metrics struct {
	relays      prometheus.Gauge
	frames      *prometheus.CounterVec
	broadcasts  prometheus.Counter
	playerCount prometheus.Gauge
}

// NewMetrics registers the peer collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		relays: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "peer",
			Name:      "relays_connected",
			Help:      "Number of connected relays",
		}),
		frames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peer",
			Name:      "frames_received_total",
			Help:      "Frames read from relays, by message type",
		}, []string{"type"}),
		broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "peer",
			Name:      "chat_broadcasts_total",
			Help:      "Chat lines broadcast to relays",
		}),
		playerCount: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "peer",
			Name:      "player_count",
			Help:      "Player count last reported by a relay",
		}),
	}
}

func (m *Metrics) setRelays(n int) {
	if m == nil {
		return
	}
	m.relays.Set(float64(n))
}

func (m *Metrics) frame(typ string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(typ).Inc()
}

func (m *Metrics) broadcast() {
	if m == nil {
		return
	}
	m.broadcasts.Inc()
}

func (m *Metrics) setStatus(s Status) {
	if m == nil {
		return
	}
	m.playerCount.Set(float64(s.PlayerCount))
}

// Relays returns the connected relay gauge.
func (m *Metrics) Relays() prometheus.Gauge {
	return m.relays
}

// Frames returns the received-frame counter for typ. Unknown and malformed
// frames are counted as "unknown" and "malformed".
func (m *Metrics) Frames(typ string) prometheus.Counter {
	return m.frames.WithLabelValues(typ)
}

// Broadcasts returns the broadcast counter.
func (m *Metrics) Broadcasts() prometheus.Counter {
	return m.broadcasts
}

// PlayerCount returns the player count gauge.
func (m *Metrics) PlayerCount() prometheus.Gauge {
	return m.playerCount
}
