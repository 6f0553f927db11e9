// Package transport owns the WebSocket edge: upgrading HTTP requests,
// pumping frames between the socket and the signaling core, and enforcing
// per-connection read limits. It never touches the registries directly;
// everything flows through the core's ingress queue.
package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/meshrelay/signaling/internal/v1/logging"
	"github.com/meshrelay/signaling/internal/v1/signaling"
)

// ErrSendBufferFull reports a frame refused because the client's outbound
// buffer is full or the connection is closing. The caller drops the frame;
// slow consumers never stall the dispatcher.
var ErrSendBufferFull = errors.New("transport: send buffer full or closed")

const (
	writeWait       = 10 * time.Second
	sendBufferSize  = 256
	maxFrameBytes   = 64 * 1024
	defaultFrameLim = rate.Limit(100) // frames per second per connection
	defaultBurst    = 200
)

// wsConnection is the subset of *websocket.Conn the client needs, kept as an
// interface so tests can drive the pumps without a real socket.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	RemoteAddr() net.Addr
	Close() error
}

// Client binds one WebSocket connection to the signaling core. It implements
// signaling.Conn: the dispatcher hands it frames through Send and tears it
// down through Close, both without blocking.
type Client struct {
	conn    wsConnection
	core    *signaling.Server
	limiter *rate.Limiter

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func newClient(conn wsConnection, core *signaling.Server, frameLimit rate.Limit, burst int) *Client {
	if frameLimit <= 0 {
		frameLimit = defaultFrameLim
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	return &Client{
		conn:    conn,
		core:    core,
		limiter: rate.NewLimiter(frameLimit, burst),
		send:    make(chan []byte, sendBufferSize),
	}
}

// Send queues a frame for the write pump. Never blocks: a full buffer or a
// closing connection returns ErrSendBufferFull and the frame is dropped.
func (c *Client) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSendBufferFull
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close shuts the outbound channel, which drives the write pump through its
// drain-and-close sequence. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.send)
	return nil
}

// RemoteAddr returns the peer address for logs.
func (c *Client) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// readPump pulls frames off the socket until it errors, forwarding text
// frames to the core. Frames beyond the per-connection rate are dropped
// without a reply; the connection itself survives.
func (c *Client) readPump() {
	defer func() {
		c.core.Closed(c)
		_ = c.Close()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameBytes)
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warn(context.Background(), "WebSocket read failed",
					zap.String("remote_addr", c.RemoteAddr()), zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if !c.limiter.Allow() {
			logging.Warn(context.Background(), "Per-connection frame limit exceeded, dropping frame",
				zap.String("remote_addr", c.RemoteAddr()))
			continue
		}
		c.core.Received(c, data)
	}
}

// writePump serializes all socket writes. When the send channel closes it
// emits a close frame and releases the socket.
func (c *Client) writePump() {
	defer c.conn.Close()

	for frame := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			logging.Warn(context.Background(), "WebSocket write failed",
				zap.String("remote_addr", c.RemoteAddr()), zap.Error(err))
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
