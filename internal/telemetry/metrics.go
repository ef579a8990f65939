// Package telemetry exposes Prometheus collectors for the real-time client.
// A nil *Metrics is valid and records nothing.
package telemetry

import (
	"github.com/HMasataka/agentws/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "agentws"

// Drop reasons
const (
	ReasonMalformed = "malformed"
	ReasonUnhandled = "unhandled"
	ReasonStale     = "stale"
)

// Metrics holds the client collectors
type Metrics struct {
	state          prometheus.Gauge
	reconnects     prometheus.Counter
	exhausted      prometheus.Counter
	framesReceived *prometheus.CounterVec
	framesDropped  *prometheus.CounterVec
	framesSent     *prometheus.CounterVec
	handlerErrors  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Current connection state (0 idle, 1 connecting, 2 connected, 3 disconnected, 4 reconnecting, 5 failed).",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts scheduled.",
		}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_exhausted_total",
			Help:      "Times reconnection gave up.",
		}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Inbound frames dispatched to subscribers.",
		}, []string{"type"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped without dispatch.",
		}, []string{"reason"}),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Outbound frames written.",
		}, []string{"type"}),
		handlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_errors_total",
			Help:      "Subscriber callbacks that returned an error or panicked.",
		}, []string{"type"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.state,
			m.reconnects,
			m.exhausted,
			m.framesReceived,
			m.framesDropped,
			m.framesSent,
			m.handlerErrors,
		)
	}

	return m
}

// SetState records the connection state
func (m *Metrics) SetState(s domain.ConnectionState) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}

// ReconnectScheduled counts a scheduled retry
func (m *Metrics) ReconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// ReconnectExhausted counts a give-up
func (m *Metrics) ReconnectExhausted() {
	if m == nil {
		return
	}
	m.exhausted.Inc()
}

// FrameReceived counts a dispatched frame
func (m *Metrics) FrameReceived(t domain.MessageType) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(typeLabel(t)).Inc()
}

// FrameDropped counts a dropped frame
func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

// FrameSent counts an outbound frame
func (m *Metrics) FrameSent(t domain.MessageType) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(typeLabel(t)).Inc()
}

// HandlerError counts a failed subscriber callback
func (m *Metrics) HandlerError(t domain.MessageType) {
	if m == nil {
		return
	}
	m.handlerErrors.WithLabelValues(typeLabel(t)).Inc()
}

// typeLabel bounds label cardinality to the modelled types
func typeLabel(t domain.MessageType) string {
	switch t {
	case domain.MessageTypeRoomParticipants,
		domain.MessageTypeUserTyping,
		domain.MessageTypeNotification,
		domain.MessageTypeMetricsUpdate,
		domain.MessageTypeAgentStatus,
		domain.MessageTypeContractStatus,
		domain.MessageTypeDocumentStatus,
		domain.MessageTypeSystemStatus,
		domain.MessageTypeJoinRoom,
		domain.MessageTypeLeaveRoom,
		domain.MessageTypeTyping:
		return string(t)
	default:
		return "other"
	}
}
