package signaling

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/meshrelay/signaling/internal/v1/protocol"
)

// fakeConn implements Conn and records every frame sent to it.
type fakeConn struct {
	mu      sync.Mutex
	frames  [][]byte
	sendErr error
	closed  bool
	addr    string
}

func (f *fakeConn) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	buf := make([]byte, len(frame))
	copy(buf, frame)
	f.frames = append(f.frames, buf)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) RemoteAddr() string {
	if f.addr == "" {
		return "test:0"
	}
	return f.addr
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// envelopes decodes everything the conn has received so far.
func (f *fakeConn) envelopes(t *testing.T) []protocol.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Envelope, 0, len(f.frames))
	for _, frame := range f.frames {
		env, err := protocol.Decode(frame)
		require.NoError(t, err)
		out = append(out, *env)
	}
	return out
}

func (f *fakeConn) events(t *testing.T) []string {
	t.Helper()
	var names []string
	for _, env := range f.envelopes(t) {
		names = append(names, string(env.Event))
	}
	return names
}

// last returns the most recent envelope, failing the test when none arrived.
func (f *fakeConn) last(t *testing.T) protocol.Envelope {
	t.Helper()
	envs := f.envelopes(t)
	require.NotEmpty(t, envs, "no frames received")
	return envs[len(envs)-1]
}

// lastErrorReason decodes the most recent frame as an error event.
func (f *fakeConn) lastErrorReason(t *testing.T) string {
	t.Helper()
	env := f.last(t)
	require.Equal(t, protocol.EventError, env.Event)
	var reason string
	require.NoError(t, json.Unmarshal(env.Data, &reason))
	return reason
}

func (f *fakeConn) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

// --- Harness helpers ---

func newTestServer(t *testing.T, cfg Config) (*Server, *clocktesting.FakeClock) {
	t.Helper()
	clk := clocktesting.NewFakeClock(time.Unix(1_700_000_000, 0))
	s, err := New(cfg, clk)
	require.NoError(t, err)
	return s, clk
}

// connect accepts a fake connection and returns it with its seated client.
func connect(t *testing.T, s *Server) (*fakeConn, *Client) {
	t.Helper()
	conn := &fakeConn{}
	s.Accepted(conn)
	s.tick()
	client := s.clients.FindByConn(conn)
	require.NotNil(t, client, "client was not seated")
	return conn, client
}

// deliver feeds one raw frame through ingress and dispatches it.
func deliver(t *testing.T, s *Server, conn *fakeConn, frame string) {
	t.Helper()
	s.Received(conn, []byte(frame))
	s.tick()
}

// joinNew has the client create and join a fresh room, returning the room.
func joinNew(t *testing.T, s *Server, conn *fakeConn, client *Client, name string) *Room {
	t.Helper()
	deliver(t, s, conn, `{"event":"join-room","data":{"roomName":"`+name+`"}}`)
	require.NotNil(t, client.room, "join did not seat the client")
	return client.room
}

// joinExisting has the client join the identified room.
func joinExisting(t *testing.T, s *Server, conn *fakeConn, roomID string) {
	t.Helper()
	payload, err := json.Marshal(protocol.JoinRoomPayload{RoomID: roomID})
	require.NoError(t, err)
	deliver(t, s, conn, `{"event":"join-room","data":`+string(payload)+`}`)
}
