// Package health exposes the liveness, readiness and stats endpoints.
package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meshrelay/signaling/internal/v1/signaling"
)

// StatsProvider is the slice of the signaling core the endpoints read.
type StatsProvider interface {
	Stats() signaling.Stats
}

// Handler manages health check endpoints.
type Handler struct {
	core            StatsProvider
	ingressCapacity int
}

// NewHandler creates a health check handler over the signaling core.
func NewHandler(core StatsProvider, ingressCapacity int) *Handler {
	if ingressCapacity <= 0 {
		ingressCapacity = signaling.DefaultIngressCapacity
	}
	return &Handler{core: core, ingressCapacity: ingressCapacity}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint.
// GET /health/live
// Returns 200 if the process is alive (no dependency checks).
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles the readiness probe endpoint.
// GET /health/ready
// Returns 503 when the ingress queue is saturated, meaning the dispatcher
// is not keeping up and new traffic would be dropped.
func (h *Handler) Readiness(c *gin.Context) {
	checks := make(map[string]string)
	allHealthy := true

	stats := h.core.Stats()
	if stats.QueueDepth >= h.ingressCapacity {
		checks["ingress"] = "saturated"
		allHealthy = false
	} else {
		checks["ingress"] = "healthy"
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Stats handles the operational snapshot endpoint.
// GET /stats
func (h *Handler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.core.Stats())
}
