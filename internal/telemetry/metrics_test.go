package telemetry

import (
	"testing"

	"github.com/HMasataka/agentws/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetState(domain.StateReconnecting)
	m.ReconnectScheduled()
	m.ReconnectScheduled()
	m.FrameReceived(domain.MessageTypeNotification)
	m.FrameReceived("custom_thing")
	m.FrameDropped(ReasonMalformed)
	m.HandlerError(domain.MessageTypeMetricsUpdate)
	m.FrameSent(domain.MessageTypeJoinRoom)

	assert.Equal(t, float64(domain.StateReconnecting), testutil.ToFloat64(m.state))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.reconnects))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesReceived.WithLabelValues("notification")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesReceived.WithLabelValues("other")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesDropped.WithLabelValues(ReasonMalformed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.handlerErrors.WithLabelValues("metrics_update")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesSent.WithLabelValues("join_room")))

	count, err := testutil.GatherAndCount(reg)
	assert.NoError(t, err)
	assert.Positive(t, count)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.SetState(domain.StateConnected)
		m.ReconnectScheduled()
		m.ReconnectExhausted()
		m.FrameReceived(domain.MessageTypeNotification)
		m.FrameDropped(ReasonStale)
		m.FrameSent(domain.MessageTypeTyping)
		m.HandlerError(domain.MessageTypeUserTyping)
	})
}
