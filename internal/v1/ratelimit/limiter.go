// Package ratelimit throttles connection attempts and HTTP traffic using
// in-process sliding windows.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/meshrelay/signaling/internal/v1/logging"
	"github.com/meshrelay/signaling/internal/v1/metrics"
)

// RateLimiter holds the per-concern limiter instances backed by one shared
// in-memory store.
type RateLimiter struct {
	wsIP  *limiter.Limiter
	api   *limiter.Limiter
	store limiter.Store
}

// New parses the formatted rates ("100-M" is 100 per minute) and builds the
// limiters.
func New(wsIPRate, apiRate string) (*RateLimiter, error) {
	wsRate, err := limiter.NewRateFromFormatted(wsIPRate)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket IP rate: %w", err)
	}
	aRate, err := limiter.NewRateFromFormatted(apiRate)
	if err != nil {
		return nil, fmt.Errorf("invalid API rate: %w", err)
	}

	store := memory.NewStore()
	return &RateLimiter{
		wsIP:  limiter.New(store, wsRate),
		api:   limiter.New(store, aRate),
		store: store,
	}, nil
}

// CheckWebSocket gates one WebSocket upgrade attempt by client IP. Returns
// false after writing the 429 response. Store failures fail open.
func (rl *RateLimiter) CheckWebSocket(c *gin.Context) bool {
	ctx := c.Request.Context()
	ip := c.ClientIP()

	lctx, err := rl.wsIP.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "Rate limiter store failed", zap.Error(err))
		return true
	}

	if lctx.Reached {
		metrics.RateLimited.WithLabelValues("websocket").Inc()
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(lctx.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many connections from this IP"})
		return false
	}
	return true
}

// Middleware enforces the API rate by client IP on plain HTTP endpoints.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		lctx, err := rl.api.Get(c.Request.Context(), c.ClientIP())
		if err != nil {
			logging.Error(c.Request.Context(), "Rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			metrics.RateLimited.WithLabelValues("api").Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests",
				"retry_after": lctx.Reset,
			})
			return
		}
		c.Next()
	}
}

// Peek reports whether the key has capacity left without consuming it.
// Used by tests and capacity probes.
func (rl *RateLimiter) Peek(ctx context.Context, key string) (bool, error) {
	lctx, err := rl.wsIP.Peek(ctx, key)
	if err != nil {
		return false, err
	}
	return !lctx.Reached, nil
}
