package transport

import (
	"errors"
	"net"
	"sync"
	"time"
)

type wsMessage struct {
	messageType int
	data        []byte
}

var errMockClosed = errors.New("mock connection closed")

// mockWsConn simulates the peer side of a WebSocket: tests feed inbound
// frames through incoming and inspect outbound frames via written.
type mockWsConn struct {
	incoming chan wsMessage

	mu        sync.Mutex
	written   []wsMessage
	closed    bool
	readLimit int64
}

func newMockWsConn() *mockWsConn {
	return &mockWsConn{incoming: make(chan wsMessage, 16)}
}

func (m *mockWsConn) ReadMessage() (int, []byte, error) {
	msg, ok := <-m.incoming
	if !ok {
		return 0, nil, errMockClosed
	}
	return msg.messageType, msg.data, nil
}

func (m *mockWsConn) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errMockClosed
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.written = append(m.written, wsMessage{messageType: messageType, data: buf})
	return nil
}

func (m *mockWsConn) SetReadLimit(limit int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readLimit = limit
}

func (m *mockWsConn) SetWriteDeadline(time.Time) error { return nil }

func (m *mockWsConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 54321}
}

func (m *mockWsConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// disconnect ends the read side, as if the peer went away.
func (m *mockWsConn) disconnect() {
	defer func() { _ = recover() }() // tolerate double close in teardown paths
	close(m.incoming)
}

func (m *mockWsConn) writtenFrames() []wsMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]wsMessage, len(m.written))
	copy(out, m.written)
	return out
}

func (m *mockWsConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
