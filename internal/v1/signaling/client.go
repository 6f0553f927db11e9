// Package signaling implements the in-memory session fabric of the server:
// slotted client and room registries, the bounded ingress queue fed by the
// transport layer, and the single-goroutine dispatcher that owns every
// registry mutation.
package signaling

import (
	"context"

	"go.uber.org/zap"

	"github.com/meshrelay/signaling/internal/v1/ident"
	"github.com/meshrelay/signaling/internal/v1/logging"
	"github.com/meshrelay/signaling/internal/v1/metrics"
	"github.com/meshrelay/signaling/internal/v1/protocol"
)

// Conn is the connection handle owned by the transport layer. The core never
// inspects it beyond identity comparison and these three operations. Send
// must not block: implementations buffer on the caller's behalf and return an
// error when the buffer is full or the connection is gone.
type Conn interface {
	Send(frame []byte) error
	Close() error
	RemoteAddr() string
}

// ClientState tracks where a client is in its lifecycle.
type ClientState uint8

const (
	StateConnected ClientState = iota
	StateJoining
	StateInRoom
	StateDisconnecting
)

func (s ClientState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateJoining:
		return "joining"
	case StateInRoom:
		return "in_room"
	case StateDisconnecting:
		return "disconnecting"
	}
	return "unknown"
}

// Client is one slot in the client registry. The record is reused across
// occupants; identity, timestamps and counters are reset on allocation.
// Only the dispatcher goroutine touches these fields.
type Client struct {
	id           string
	conn         Conn
	room         *Room
	state        ClientState
	connectTime  int64 // unix seconds
	lastActivity int64
	messagesSent uint64
	messagesRecv uint64
	alive        bool
}

// ID returns the identifier assigned at accept time. It never changes for
// the lifetime of the slot occupant.
func (c *Client) ID() string { return c.id }

// State returns the client's lifecycle state.
func (c *Client) State() ClientState { return c.state }

// Room returns the client's current room, or nil.
func (c *Client) Room() *Room { return c.room }

// Alive reports whether the slot holds a live connection.
func (c *Client) Alive() bool { return c.alive }

func (c *Client) touch(nowSec int64) {
	c.lastActivity = nowSec
}

func (c *Client) timedOut(nowSec int64, timeoutSec int64) bool {
	return nowSec-c.lastActivity > timeoutSec
}

// send encodes and writes one envelope to the client. Failed sends are not
// counted toward messagesSent.
func (c *Client) send(event protocol.Event, data any) bool {
	if !c.alive || c.conn == nil {
		return false
	}
	frame, err := protocol.Encode(event, data)
	if err != nil {
		logging.Error(context.Background(), "Failed to encode outbound envelope",
			zap.String("client_id", c.id), zap.String("event", string(event)), zap.Error(err))
		return false
	}
	return c.sendRaw(frame)
}

// sendRaw writes a pre-encoded frame, letting broadcasts marshal once.
func (c *Client) sendRaw(frame []byte) bool {
	if !c.alive || c.conn == nil {
		return false
	}
	if err := c.conn.Send(frame); err != nil {
		logging.Warn(context.Background(), "Send to client failed",
			zap.String("client_id", c.id), zap.Error(err))
		return false
	}
	c.messagesSent++
	return true
}

// ClientRegistry is a fixed-capacity slotted table of client sessions. A slot
// whose alive flag is false is free; identifiers are generated per occupant
// and are not derivable from the slot index.
type ClientRegistry struct {
	clients          []Client
	activeCount      int
	totalConnections uint64
}

// NewClientRegistry pre-allocates maxClients slots.
func NewClientRegistry(maxClients int) *ClientRegistry {
	return &ClientRegistry{clients: make([]Client, maxClients)}
}

// Add seats a connection in the first free slot and assigns it a fresh
// identity. Returns nil when every slot is occupied.
func (r *ClientRegistry) Add(conn Conn, nowSec int64) *Client {
	for i := range r.clients {
		if r.clients[i].alive {
			continue
		}
		c := &r.clients[i]
		*c = Client{
			id:           ident.New(),
			conn:         conn,
			state:        StateConnected,
			connectTime:  nowSec,
			lastActivity: nowSec,
			alive:        true,
		}
		r.activeCount++
		r.totalConnections++
		metrics.IncConnection()
		return c
	}
	return nil
}

// Remove frees the client's slot. The record keeps its identity until the
// slot is reused, but the liveness flag makes it invisible to lookups.
func (r *ClientRegistry) Remove(c *Client) {
	if c == nil || !c.alive {
		return
	}
	c.alive = false
	c.state = StateDisconnecting
	r.activeCount--
	metrics.DecConnection()
}

// FindByConn resolves a connection handle to its live client, or nil.
func (r *ClientRegistry) FindByConn(conn Conn) *Client {
	for i := range r.clients {
		if r.clients[i].alive && r.clients[i].conn == conn {
			return &r.clients[i]
		}
	}
	return nil
}

// ActiveCount returns the number of live slots.
func (r *ClientRegistry) ActiveCount() int { return r.activeCount }

// TotalConnections returns the number of connections accepted since startup.
func (r *ClientRegistry) TotalConnections() uint64 { return r.totalConnections }
