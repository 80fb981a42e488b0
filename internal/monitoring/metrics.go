// Package monitoring exposes Prometheus metrics for the chat client:
// connection lifecycle, frame traffic, and message assembly.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Frame directions for FramesTotal.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so components can run uninstrumented.
type Metrics struct {
	// Connection metrics
	ConnectionUp    prometheus.Gauge
	ConnectsTotal   prometheus.Counter
	ReconnectsTotal prometheus.Counter
	HeartbeatsTotal prometheus.Counter

	// Frame metrics
	FramesTotal *prometheus.CounterVec
	ParseErrors prometheus.Counter

	// Message metrics
	MessagesTotal *prometheus.CounterVec
	StreamsActive prometheus.Gauge
}

// New creates metrics registered against the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionUp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatkit_connection_up",
			Help: "Whether the WebSocket connection is currently open (1) or not (0)",
		}),
		ConnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatkit_connects_total",
			Help: "Total number of successful WebSocket connects",
		}),
		ReconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatkit_reconnects_total",
			Help: "Total number of reconnect attempts scheduled after unexpected closure",
		}),
		HeartbeatsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatkit_heartbeats_total",
			Help: "Total number of heartbeat pings sent",
		}),
		FramesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatkit_frames_total",
			Help: "Total WebSocket frames by direction and type",
		}, []string{"direction", "type"}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatkit_frame_parse_errors_total",
			Help: "Total inbound frames dropped because they failed to parse",
		}),
		MessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatkit_messages_total",
			Help: "Total transcript messages by conversation and role",
		}, []string{"conversation", "role"}),
		StreamsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatkit_streams_active",
			Help: "Number of assistant responses currently streaming",
		}),
	}
}

// NewDefault creates metrics on the default Prometheus registry.
func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

// RecordConnect marks the connection as open.
func (m *Metrics) RecordConnect() {
	if m == nil {
		return
	}
	m.ConnectsTotal.Inc()
	m.ConnectionUp.Set(1)
}

// RecordDisconnect marks the connection as closed.
func (m *Metrics) RecordDisconnect() {
	if m == nil {
		return
	}
	m.ConnectionUp.Set(0)
}

// RecordReconnect counts a scheduled reconnect attempt.
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.ReconnectsTotal.Inc()
}

// RecordHeartbeat counts one heartbeat ping.
func (m *Metrics) RecordHeartbeat() {
	if m == nil {
		return
	}
	m.HeartbeatsTotal.Inc()
}

// RecordFrame counts one frame by direction and type.
func (m *Metrics) RecordFrame(direction, frameType string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(direction, frameType).Inc()
}

// RecordParseError counts one dropped unparseable frame.
func (m *Metrics) RecordParseError() {
	if m == nil {
		return
	}
	m.ParseErrors.Inc()
}

// RecordMessage counts one transcript message.
func (m *Metrics) RecordMessage(conversation, role string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(conversation, role).Inc()
}

// RecordStreamStart marks an assistant stream as in flight.
func (m *Metrics) RecordStreamStart() {
	if m == nil {
		return
	}
	m.StreamsActive.Inc()
}

// RecordStreamEnd marks an assistant stream as finished.
func (m *Metrics) RecordStreamEnd() {
	if m == nil {
		return
	}
	m.StreamsActive.Dec()
}
