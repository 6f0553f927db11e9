package signaling

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/meshrelay/signaling/internal/v1/logging"
	"github.com/meshrelay/signaling/internal/v1/metrics"
	"github.com/meshrelay/signaling/internal/v1/protocol"
)

const (
	// dispatchInterval is how often the dispatcher wakes to drain ingress
	// and check for shutdown.
	dispatchInterval = 50 * time.Millisecond
	// reapInterval is the minimum spacing between reaper passes.
	reapInterval = 10 * time.Second
)

// Config bounds the server's pre-allocated state. Zero values take the
// documented defaults; out-of-range values are rejected by New.
type Config struct {
	MaxClients      int           // 1..65536, default 1024
	MaxRooms        int           // 1..10000, default 256
	ClientTimeout   time.Duration // >= 30s, default 5m
	IngressCapacity int           // default 1024
}

func (c *Config) applyDefaults() {
	if c.MaxClients == 0 {
		c.MaxClients = 1024
	}
	if c.MaxRooms == 0 {
		c.MaxRooms = 256
	}
	if c.ClientTimeout == 0 {
		c.ClientTimeout = 5 * time.Minute
	}
	if c.IngressCapacity == 0 {
		c.IngressCapacity = DefaultIngressCapacity
	}
}

func (c *Config) validate() error {
	if c.MaxClients < 1 || c.MaxClients > 65536 {
		return fmt.Errorf("max clients must be between 1 and 65536 (got %d)", c.MaxClients)
	}
	if c.MaxRooms < 1 || c.MaxRooms > 10000 {
		return fmt.Errorf("max rooms must be between 1 and 10000 (got %d)", c.MaxRooms)
	}
	if c.ClientTimeout < 30*time.Second {
		return fmt.Errorf("client timeout must be at least 30s (got %s)", c.ClientTimeout)
	}
	if c.IngressCapacity < 1 {
		return fmt.Errorf("ingress capacity must be positive (got %d)", c.IngressCapacity)
	}
	return nil
}

// Stats is a point-in-time snapshot safe to read from any goroutine.
type Stats struct {
	ActiveClients     int    `json:"active_clients"`
	ActiveRooms       int    `json:"active_rooms"`
	TotalConnections  uint64 `json:"total_connections"`
	TotalRoomsCreated uint64 `json:"total_rooms_created"`
	TotalMessages     uint64 `json:"total_messages"`
	TotalErrors       uint64 `json:"total_errors"`
	DroppedFrames     uint64 `json:"dropped_frames"`
	QueueDepth        int    `json:"queue_depth"`
	UptimeSeconds     int64  `json:"uptime_seconds"`
}

// Server is the signaling core. The transport layer feeds it through
// Accepted, Received and Closed; a single goroutine running Run drains the
// ingress queue and is the only mutator of the registries.
type Server struct {
	cfg     Config
	clk     clock.PassiveClock
	clients *ClientRegistry
	rooms   *RoomRegistry
	ingress *ingressQueue

	// Counters bumped from both producer goroutines and the dispatcher.
	totalMessages atomic.Uint64
	totalErrors   atomic.Uint64
	dropped       atomic.Uint64

	startedAt time.Time
	lastReap  time.Time

	// Registry-derived figures are published by the dispatcher after each
	// drain so monitors never read the registries concurrently.
	statsMu  sync.RWMutex
	snapshot Stats
}

// New builds a server with pre-allocated registries. Initialization is the
// only fatal path; runtime handler failures never are.
func New(cfg Config, clk clock.PassiveClock) (*Server, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("signaling: invalid config: %w", err)
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	s := &Server{
		cfg:       cfg,
		clk:       clk,
		clients:   NewClientRegistry(cfg.MaxClients),
		rooms:     NewRoomRegistry(cfg.MaxRooms),
		ingress:   newIngressQueue(cfg.IngressCapacity),
		startedAt: clk.Now(),
		lastReap:  clk.Now(),
	}
	s.publishSnapshot()

	logging.Info(context.Background(), "Signaling core initialized",
		zap.Int("max_clients", cfg.MaxClients),
		zap.Int("max_rooms", cfg.MaxRooms),
		zap.Duration("client_timeout", cfg.ClientTimeout),
		zap.Int("ingress_capacity", cfg.IngressCapacity))
	return s, nil
}

// --- Producer side (called from transport goroutines) ---

// Accepted queues a new connection for seating. If the ring is full the
// connection is refused outright.
func (s *Server) Accepted(conn Conn) {
	if !s.ingress.push(ingressEntry{kind: entryAccept, conn: conn, enqueuedMs: s.nowMs()}) {
		s.recordDrop()
		_ = conn.Close()
	}
}

// Received parses one frame and queues it. Malformed frames count as server
// errors and get no reply, but are still queued with a nil envelope so the
// sender's last-activity is refreshed; overflow drops the frame without
// blocking the reader.
func (s *Server) Received(conn Conn, frame []byte) {
	env, err := protocol.Decode(frame)
	if err != nil {
		s.totalErrors.Add(1)
		metrics.Errors.Inc()
		env = nil
	}
	if !s.ingress.push(ingressEntry{kind: entryFrame, conn: conn, env: env, enqueuedMs: s.nowMs()}) {
		s.recordDrop()
	}
}

// Closed queues the connection's teardown. If the ring is full the entry is
// dropped; the slot stops accumulating activity and the reaper reclaims it.
func (s *Server) Closed(conn Conn) {
	if !s.ingress.push(ingressEntry{kind: entryClose, conn: conn, enqueuedMs: s.nowMs()}) {
		s.recordDrop()
	}
}

func (s *Server) recordDrop() {
	s.dropped.Add(1)
	s.totalErrors.Add(1)
	metrics.IngressDropped.Inc()
	metrics.Errors.Inc()
}

// --- Dispatcher side ---

// Run drives the dispatcher until the context is cancelled. It wakes every
// 50ms, drains the ingress queue, and runs the reaper when due.
func (s *Server) Run(ctx context.Context) {
	logging.Info(ctx, "Dispatcher started")
	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info(ctx, "Dispatcher stopped", zap.Error(ctx.Err()))
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick is one dispatcher iteration: drain ingress fully, then reap if due.
func (s *Server) tick() {
	for {
		e, ok := s.ingress.pop()
		if !ok {
			break
		}
		s.process(e)
	}
	if s.clk.Since(s.lastReap) >= reapInterval {
		s.reap()
	}
	s.publishSnapshot()
}

func (s *Server) process(e ingressEntry) {
	start := s.clk.Now()
	label := "frame"

	switch e.kind {
	case entryAccept:
		label = "accept"
		s.processAccept(e.conn)
	case entryClose:
		label = "close"
		s.processClose(e.conn)
	case entryFrame:
		label = eventLabel(e.env)
		s.processFrame(e.conn, e.env)
	}

	metrics.DispatchDuration.WithLabelValues(label).Observe(s.clk.Since(start).Seconds())
}

func (s *Server) processAccept(conn Conn) {
	client := s.clients.Add(conn, s.nowSec())
	if client == nil {
		logging.Warn(context.Background(), "Client registry full, refusing connection",
			zap.String("remote_addr", conn.RemoteAddr()), zap.Int("max_clients", s.cfg.MaxClients))
		s.totalErrors.Add(1)
		metrics.Errors.Inc()
		_ = conn.Close()
		return
	}
	client.send(protocol.EventClientID, protocol.ClientIDPayload{ClientID: client.id})
	logging.Info(context.Background(), "Client connected",
		zap.String("client_id", client.id), zap.String("remote_addr", conn.RemoteAddr()))
}

func (s *Server) processClose(conn Conn) {
	client := s.clients.FindByConn(conn)
	if client == nil {
		return
	}
	s.handleLeaveRoom(client)
	s.clients.Remove(client)
	logging.Info(context.Background(), "Client disconnected", zap.String("client_id", client.id))
}

// eventLabel maps an envelope onto the fixed label vocabulary. Client-chosen
// event names must never become label values or each one mints a new metric
// series.
func eventLabel(env *protocol.Envelope) string {
	if env == nil {
		return "malformed"
	}
	switch env.Event {
	case protocol.EventJoinRoom, protocol.EventLeaveRoom,
		protocol.EventOffer, protocol.EventAnswer, protocol.EventICECandidate:
		return string(env.Event)
	}
	return "unknown"
}

func (s *Server) processFrame(conn Conn, env *protocol.Envelope) {
	client := s.clients.FindByConn(conn)
	if client == nil {
		// Frame from a connection that was never seated or already removed.
		return
	}
	client.touch(s.nowSec())
	if env == nil {
		// Malformed frame, counted at receive time. The sender is still live.
		return
	}
	client.messagesRecv++
	s.totalMessages.Add(1)

	switch env.Event {
	case protocol.EventJoinRoom:
		s.handleJoinRoom(client, env.Data)
		metrics.Events.WithLabelValues(string(env.Event), "ok").Inc()
	case protocol.EventLeaveRoom:
		s.handleLeaveRoom(client)
		metrics.Events.WithLabelValues(string(env.Event), "ok").Inc()
	case protocol.EventOffer, protocol.EventAnswer, protocol.EventICECandidate:
		s.handleSignal(client, env.Event, env.Data)
		metrics.Events.WithLabelValues(string(env.Event), "ok").Inc()
	default:
		s.totalErrors.Add(1)
		metrics.Errors.Inc()
		metrics.Events.WithLabelValues("unknown", "unknown").Inc()
		logging.Warn(context.Background(), "Unknown event",
			zap.String("client_id", client.id), zap.String("event", string(env.Event)))
	}
}

// reap removes clients whose last activity exceeds the configured timeout,
// exactly as if the transport had reported a close, then frees empty rooms.
func (s *Server) reap() {
	now := s.clk.Now()
	nowSec := now.Unix()
	timeoutSec := int64(s.cfg.ClientTimeout / time.Second)

	for i := range s.clients.clients {
		c := &s.clients.clients[i]
		if !c.alive || !c.timedOut(nowSec, timeoutSec) {
			continue
		}
		logging.Info(context.Background(), "Client timed out",
			zap.String("client_id", c.id),
			zap.Int64("idle_seconds", nowSec-c.lastActivity))
		s.handleLeaveRoom(c)
		if c.conn != nil {
			_ = c.conn.Close()
		}
		s.clients.Remove(c)
	}

	s.rooms.ReapEmpty()
	s.lastReap = now
}

func (s *Server) publishSnapshot() {
	snap := Stats{
		ActiveClients:     s.clients.ActiveCount(),
		ActiveRooms:       s.rooms.ActiveCount(),
		TotalConnections:  s.clients.TotalConnections(),
		TotalRoomsCreated: s.rooms.TotalCreated(),
		UptimeSeconds:     int64(s.clk.Since(s.startedAt) / time.Second),
	}
	s.statsMu.Lock()
	s.snapshot = snap
	s.statsMu.Unlock()
}

// Stats returns a snapshot of the server's counters. Registry figures are as
// of the last completed dispatcher pass.
func (s *Server) Stats() Stats {
	s.statsMu.RLock()
	snap := s.snapshot
	s.statsMu.RUnlock()

	snap.TotalMessages = s.totalMessages.Load()
	snap.TotalErrors = s.totalErrors.Load()
	snap.DroppedFrames = s.dropped.Load()
	snap.QueueDepth = s.ingress.len()
	return snap
}

func (s *Server) nowSec() int64 { return s.clk.Now().Unix() }
func (s *Server) nowMs() int64  { return s.clk.Now().UnixMilli() }
