package signaling

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshrelay/signaling/internal/v1/ident"
	"github.com/meshrelay/signaling/internal/v1/protocol"
)

func TestClientRegistry_AddAssignsIdentity(t *testing.T) {
	r := NewClientRegistry(4)
	conn := &fakeConn{}

	c := r.Add(conn, 100)
	require.NotNil(t, c)
	assert.True(t, ident.Valid(c.ID()))
	assert.Equal(t, StateConnected, c.State())
	assert.True(t, c.Alive())
	assert.Nil(t, c.Room())
	assert.Equal(t, int64(100), c.connectTime)
	assert.Equal(t, int64(100), c.lastActivity)
	assert.Equal(t, 1, r.ActiveCount())
	assert.Equal(t, uint64(1), r.TotalConnections())
}

func TestClientRegistry_FullReturnsNil(t *testing.T) {
	r := NewClientRegistry(2)

	require.NotNil(t, r.Add(&fakeConn{}, 1))
	require.NotNil(t, r.Add(&fakeConn{}, 1))
	assert.Nil(t, r.Add(&fakeConn{}, 1))
	assert.Equal(t, 2, r.ActiveCount())
}

func TestClientRegistry_SlotReuse(t *testing.T) {
	r := NewClientRegistry(2)

	a := r.Add(&fakeConn{}, 1)
	b := r.Add(&fakeConn{}, 1)
	require.NotNil(t, a)
	require.NotNil(t, b)
	oldID := a.ID()

	r.Remove(a)
	assert.Equal(t, 1, r.ActiveCount())
	assert.Equal(t, StateDisconnecting, a.State())

	// The freed slot is reused with a fresh identity.
	c := r.Add(&fakeConn{}, 2)
	require.NotNil(t, c)
	assert.Same(t, a, c)
	assert.NotEqual(t, oldID, c.ID())
	assert.Equal(t, 2, r.ActiveCount())
	assert.Equal(t, uint64(3), r.TotalConnections())
}

func TestClientRegistry_RemoveDeadIsNoop(t *testing.T) {
	r := NewClientRegistry(1)
	c := r.Add(&fakeConn{}, 1)
	require.NotNil(t, c)

	r.Remove(c)
	r.Remove(c)
	r.Remove(nil)
	assert.Equal(t, 0, r.ActiveCount())
}

func TestClientRegistry_FindByConn(t *testing.T) {
	r := NewClientRegistry(4)
	connA := &fakeConn{}
	connB := &fakeConn{}

	a := r.Add(connA, 1)
	b := r.Add(connB, 1)

	assert.Same(t, a, r.FindByConn(connA))
	assert.Same(t, b, r.FindByConn(connB))
	assert.Nil(t, r.FindByConn(&fakeConn{}))

	r.Remove(a)
	assert.Nil(t, r.FindByConn(connA))
}

func TestClient_TimedOut(t *testing.T) {
	c := &Client{lastActivity: 100}

	assert.False(t, c.timedOut(400, 300))
	assert.True(t, c.timedOut(401, 300))

	c.touch(401)
	assert.False(t, c.timedOut(401, 300))
}

func TestClient_SendCountsOnlySuccesses(t *testing.T) {
	conn := &fakeConn{}
	c := &Client{id: "c1", conn: conn, alive: true}

	require.True(t, c.send(protocol.EventError, "boom"))
	assert.Equal(t, uint64(1), c.messagesSent)
	assert.Equal(t, "boom", conn.lastErrorReason(t))

	conn.sendErr = errors.New("buffer full")
	assert.False(t, c.send(protocol.EventError, "boom"))
	assert.Equal(t, uint64(1), c.messagesSent)

	c.alive = false
	conn.sendErr = nil
	assert.False(t, c.send(protocol.EventError, "boom"))
	assert.Equal(t, 1, conn.frameCount())
}
