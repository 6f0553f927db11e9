package signaling

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/meshrelay/signaling/internal/v1/metrics"
	"github.com/meshrelay/signaling/internal/v1/protocol"
)

func TestNew_Defaults(t *testing.T) {
	s, _ := newTestServer(t, Config{})

	assert.Equal(t, 1024, s.cfg.MaxClients)
	assert.Equal(t, 256, s.cfg.MaxRooms)
	assert.Equal(t, 5*time.Minute, s.cfg.ClientTimeout)
	assert.Equal(t, DefaultIngressCapacity, s.cfg.IngressCapacity)
}

func TestNew_RejectsOutOfRangeConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"too many clients", Config{MaxClients: 70000}},
		{"negative clients", Config{MaxClients: -1}},
		{"too many rooms", Config{MaxRooms: 20000}},
		{"timeout too short", Config{ClientTimeout: 10 * time.Second}},
		{"negative ingress", Config{IngressCapacity: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, clocktesting.NewFakeClock(time.Unix(0, 0)))
			assert.Error(t, err)
		})
	}
}

func TestServer_AcceptAssignsClientID(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	conn, client := connect(t, s)

	require.Equal(t, []string{"client-id"}, conn.events(t))
	env := conn.last(t)
	assert.JSONEq(t, `{"clientId":"`+client.ID()+`"}`, string(env.Data))
	assert.Equal(t, StateConnected, client.State())
}

func TestServer_RefusesConnectionWhenRegistryFull(t *testing.T) {
	s, _ := newTestServer(t, Config{MaxClients: 1})
	connect(t, s)

	turned := &fakeConn{}
	s.Accepted(turned)
	s.tick()

	// No identity is ever issued for a refused connection.
	assert.Equal(t, 0, turned.frameCount())
	assert.True(t, turned.isClosed())
	assert.Nil(t, s.clients.FindByConn(turned))
	assert.Equal(t, 1, s.Stats().ActiveClients)
}

func TestServer_MalformedFrameCountsError(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	conn, _ := connect(t, s)
	before := s.Stats().TotalErrors

	s.Received(conn, []byte(`{"event":`))
	s.Received(conn, []byte(`{"data":{"roomName":"no event"}}`))
	s.tick()

	assert.Equal(t, before+2, s.Stats().TotalErrors)
	assert.Equal(t, uint64(0), s.Stats().TotalMessages)
	assert.Equal(t, 1, conn.frameCount(), "malformed frames get no reply")
}

func TestServer_UnknownEventCountsError(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	conn, _ := connect(t, s)
	before := s.Stats().TotalErrors

	deliver(t, s, conn, `{"event":"teleport","data":{}}`)

	assert.Equal(t, before+1, s.Stats().TotalErrors)
	assert.Equal(t, uint64(1), s.Stats().TotalMessages)
	assert.Equal(t, 1, conn.frameCount(), "unknown events get no reply")
}

func TestServer_FrameFromUnknownConnIgnored(t *testing.T) {
	s, _ := newTestServer(t, Config{})

	s.Received(&fakeConn{}, []byte(`{"event":"leave-room"}`))
	s.tick()

	assert.Equal(t, uint64(0), s.Stats().TotalMessages)
}

func TestServer_IngressOverflowDropsFrames(t *testing.T) {
	s, _ := newTestServer(t, Config{IngressCapacity: 2})
	conn, _ := connect(t, s)

	s.Received(conn, []byte(`{"event":"leave-room"}`))
	s.Received(conn, []byte(`{"event":"leave-room"}`))
	s.Received(conn, []byte(`{"event":"leave-room"}`))

	assert.Equal(t, uint64(1), s.Stats().DroppedFrames)

	s.tick()
	assert.Equal(t, uint64(2), s.Stats().TotalMessages)
	assert.Equal(t, 0, s.Stats().QueueDepth)
}

func TestServer_CloseReleasesSlotAndRoom(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	conn, client := connect(t, s)
	joinNew(t, s, conn, client, "solo")

	s.Closed(conn)
	s.tick()

	assert.Nil(t, s.clients.FindByConn(conn))
	assert.Equal(t, 0, s.Stats().ActiveClients)
	assert.Equal(t, uint64(1), s.Stats().TotalConnections)
}

func TestServer_ReapTimedOutClients(t *testing.T) {
	s, clk := newTestServer(t, Config{})
	connA, a := connect(t, s)
	connB, b := connect(t, s)
	room := joinNew(t, s, connA, a, "reapable")
	joinExisting(t, s, connB, room.ID())
	require.Equal(t, 2, room.ParticipantCount())

	clk.Step(301 * time.Second)
	s.tick()

	assert.True(t, connA.isClosed())
	assert.True(t, connB.isClosed())
	assert.Equal(t, 0, s.Stats().ActiveClients)
	assert.Equal(t, 0, s.Stats().ActiveRooms)
	assert.Equal(t, RoomClosing, room.State())
	assert.False(t, a.Alive())
	assert.False(t, b.Alive())
}

func TestServer_ReapSparesActiveClients(t *testing.T) {
	s, clk := newTestServer(t, Config{})
	connA, a := connect(t, s)
	connB, _ := connect(t, s)
	joinNew(t, s, connA, a, "idle room")

	// B keeps talking; A goes quiet.
	clk.Step(200 * time.Second)
	deliver(t, s, connB, `{"event":"leave-room"}`)

	clk.Step(101 * time.Second)
	s.tick()

	assert.True(t, connA.isClosed())
	assert.False(t, connB.isClosed())
	assert.Nil(t, s.clients.FindByConn(connA))
	assert.NotNil(t, s.clients.FindByConn(connB))
	assert.Equal(t, 1, s.Stats().ActiveClients)
	assert.Equal(t, 0, s.Stats().ActiveRooms)
}

func TestServer_ReapSparesClientSendingMalformedFrames(t *testing.T) {
	s, clk := newTestServer(t, Config{ClientTimeout: 30 * time.Second})
	conn, client := connect(t, s)

	// Garbage is never dispatched to a handler, but any received frame
	// still refreshes the sender's activity.
	clk.Step(20 * time.Second)
	s.Received(conn, []byte(`not json at all`))
	s.tick()
	clk.Step(20 * time.Second)
	s.tick()

	assert.True(t, client.Alive(), "client sending frames was reaped as idle")
	assert.False(t, conn.isClosed())

	// Silence past the timeout is still reaped.
	clk.Step(31 * time.Second)
	s.tick()
	assert.False(t, client.Alive())
	assert.True(t, conn.isClosed())
}

func TestServer_ClientEventNamesDoNotMintMetricSeries(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	conn, _ := connect(t, s)

	series := testutil.CollectAndCount(metrics.Events)
	deliver(t, s, conn, `{"event":"fuzz-aa11","data":{}}`)
	deliver(t, s, conn, `{"event":"fuzz-bb22","data":{}}`)

	assert.LessOrEqual(t, testutil.CollectAndCount(metrics.Events), series+1,
		"unrecognized events must share one label value")
}

func TestEventLabel(t *testing.T) {
	assert.Equal(t, "offer", eventLabel(&protocol.Envelope{Event: protocol.EventOffer}))
	assert.Equal(t, "join-room", eventLabel(&protocol.Envelope{Event: protocol.EventJoinRoom}))
	assert.Equal(t, "unknown", eventLabel(&protocol.Envelope{Event: "anything-else"}))
	assert.Equal(t, "unknown", eventLabel(&protocol.Envelope{Event: protocol.EventPong}))
	assert.Equal(t, "malformed", eventLabel(nil))
}

func TestServer_ReapWaitsForInterval(t *testing.T) {
	s, clk := newTestServer(t, Config{})
	_, a := connect(t, s)
	lastReap := s.lastReap

	clk.Step(5 * time.Second)
	s.tick()

	assert.Equal(t, lastReap, s.lastReap, "reaper ran before its interval elapsed")
	assert.True(t, a.Alive())
}

func TestServer_StatsSnapshot(t *testing.T) {
	s, clk := newTestServer(t, Config{})
	connA, a := connect(t, s)
	connB, b := connect(t, s)
	room := joinNew(t, s, connA, a, "observed")
	joinExisting(t, s, connB, room.ID())
	require.Same(t, room, b.Room())

	clk.Step(42 * time.Second)
	s.tick()

	stats := s.Stats()
	assert.Equal(t, 2, stats.ActiveClients)
	assert.Equal(t, 1, stats.ActiveRooms)
	assert.Equal(t, uint64(2), stats.TotalConnections)
	assert.Equal(t, uint64(1), stats.TotalRoomsCreated)
	assert.Equal(t, uint64(2), stats.TotalMessages)
	assert.Equal(t, int64(42), stats.UptimeSeconds)
	assert.Equal(t, 0, stats.QueueDepth)
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	s, err := New(Config{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop after cancel")
	}
}
