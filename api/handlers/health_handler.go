package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/yt-relay/internal/app"
)

// Version is reported by the health endpoint
var Version = "1.0.0"

// HealthHandler handles health check requests
type HealthHandler struct {
	broadcaster *app.Broadcaster
	dispatcher  *app.WorkerDispatcher
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(broadcaster *app.Broadcaster, dispatcher *app.WorkerDispatcher) *HealthHandler {
	return &HealthHandler{
		broadcaster: broadcaster,
		dispatcher:  dispatcher,
	}
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Broadcaster struct {
		Running   bool `json:"running"`
		Observers int  `json:"observers"`
	} `json:"broadcaster"`
	Workers struct {
		Active int `json:"active"`
	} `json:"workers"`
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	response := HealthResponse{
		Status:  "ok",
		Version: Version,
	}
	response.Broadcaster.Running = h.broadcaster.IsRunning()
	response.Broadcaster.Observers = h.broadcaster.Count()
	response.Workers.Active = h.dispatcher.Active()

	c.JSON(http.StatusOK, response)
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if !h.broadcaster.IsRunning() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "broadcaster not running",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
