package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/meshrelay/signaling/internal/v1/logging"
	"github.com/meshrelay/signaling/internal/v1/ratelimit"
	"github.com/meshrelay/signaling/internal/v1/signaling"
)

// Hub accepts WebSocket upgrades and hands each connection to the signaling
// core. It keeps no per-client state of its own; the core's registries are
// the single source of truth.
type Hub struct {
	core           *signaling.Server
	rateLimiter    *ratelimit.RateLimiter
	allowedOrigins []string
	frameLimit     rate.Limit
	frameBurst     int
}

// Options tunes the hub beyond its required dependencies.
type Options struct {
	AllowedOrigins []string
	FrameLimit     rate.Limit // frames/sec per connection, 0 for default
	FrameBurst     int
}

// NewHub wires the WebSocket edge to the signaling core.
func NewHub(core *signaling.Server, rl *ratelimit.RateLimiter, opts Options) *Hub {
	return &Hub{
		core:           core,
		rateLimiter:    rl,
		allowedOrigins: opts.AllowedOrigins,
		frameLimit:     opts.FrameLimit,
		frameBurst:     opts.FrameBurst,
	}
}

// ServeWs gates, upgrades and registers one WebSocket connection. The
// client's identity is announced by the core once the accept entry is
// dispatched; the hub itself writes nothing to the socket.
func (h *Hub) ServeWs(c *gin.Context) {
	if !h.rateLimiter.CheckWebSocket(c) {
		return // response already written
	}

	if err := validateOrigin(c.Request, h.allowedOrigins); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	conn, err := h.upgrade(c)
	if err != nil {
		return
	}

	h.HandleConnection(conn)
}

// HandleConnection registers an established connection with the core and
// starts its pumps. Split from ServeWs so tests can drive it with a mock
// connection.
func (h *Hub) HandleConnection(conn wsConnection) *Client {
	client := newClient(conn, h.core, h.frameLimit, h.frameBurst)

	// Register before reading so the identity frame precedes any reply.
	h.core.Accepted(client)

	go client.writePump()
	go client.readPump()
	return client
}

func (h *Hub) upgrade(c *gin.Context) (wsConnection, error) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return validateOrigin(r, h.allowedOrigins) == nil
		},
		WriteBufferPool: &sync.Pool{},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to upgrade connection", zap.Error(err))
		return nil, err
	}
	return conn, nil
}

// validateOrigin checks the request origin against the allowed list. A
// missing Origin header passes so non-browser clients can connect.
func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		logging.Warn(context.Background(), "Invalid origin URL",
			zap.String("origin", origin), zap.Error(err))
		return fmt.Errorf("invalid origin URL: %w", err)
	}

	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}

	logging.Warn(context.Background(), "Origin not in allowed list",
		zap.String("origin", origin), zap.Strings("allowed_origins", allowedOrigins))
	return fmt.Errorf("origin not allowed: %s", origin)
}
