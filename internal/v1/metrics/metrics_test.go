package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersIncrement(t *testing.T) {
	t.Run("Events", func(t *testing.T) {
		before := testutil.ToFloat64(Events.WithLabelValues("join-room", "ok"))
		Events.WithLabelValues("join-room", "ok").Inc()
		after := testutil.ToFloat64(Events.WithLabelValues("join-room", "ok"))
		assert.Equal(t, before+1, after)
	})

	t.Run("IngressDropped", func(t *testing.T) {
		before := testutil.ToFloat64(IngressDropped)
		IngressDropped.Inc()
		assert.Equal(t, before+1, testutil.ToFloat64(IngressDropped))
	})
}

func TestConnectionGauge(t *testing.T) {
	before := testutil.ToFloat64(ActiveConnections)
	IncConnection()
	assert.Equal(t, before+1, testutil.ToFloat64(ActiveConnections))
	DecConnection()
	assert.Equal(t, before, testutil.ToFloat64(ActiveConnections))
}

func TestRoomParticipantsGauge(t *testing.T) {
	RoomParticipants.WithLabelValues("room-1").Set(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(RoomParticipants.WithLabelValues("room-1")))
	RoomParticipants.DeleteLabelValues("room-1")
}

func TestDispatchDuration_NoPanic(t *testing.T) {
	// Histogram registration sanity check; observing must not panic.
	DispatchDuration.WithLabelValues("offer").Observe(0.002)
}
