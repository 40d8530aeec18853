package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/yt-relay/internal/app"
	"github.com/yourusername/yt-relay/internal/domain"
)

// DownloadHandler handles download-related HTTP requests
type DownloadHandler struct {
	registry   *app.JobRegistry
	dispatcher *app.WorkerDispatcher
	logger     *zap.Logger
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(registry *app.JobRegistry, dispatcher *app.WorkerDispatcher, logger *zap.Logger) *DownloadHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DownloadHandler{
		registry:   registry,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// AddDownloadRequest represents a request to add a download.
// VideoID takes a bare id or any supported video URL.
type AddDownloadRequest struct {
	VideoID string `json:"videoId" binding:"required"`
}

// AddDownloadResponse reports what happened to a submission
type AddDownloadResponse struct {
	Outcome string     `json:"outcome"`
	Key     string     `json:"videoId"`
	Message string     `json:"message,omitempty"`
	Job     domain.Job `json:"job"`
}

// AddDownload handles POST /api/v1/downloads
func (h *DownloadHandler) AddDownload(c *gin.Context) {
	var req AddDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.dispatcher.Submit(req.VideoID)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to schedule download", zap.String("key", result.Key), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "videoId": result.Key})
		return
	}

	response := AddDownloadResponse{
		Outcome: result.Outcome.String(),
		Key:     result.Key,
		Job:     result.Job,
	}
	if result.Outcome == app.SubmitAlreadyInFlight {
		response.Message = alreadyDownloadingMessage
		c.JSON(http.StatusOK, response)
		return
	}
	c.JSON(http.StatusAccepted, response)
}

// GetDownload handles GET /api/v1/downloads/:key
func (h *DownloadHandler) GetDownload(c *gin.Context) {
	key := c.Param("key")

	job, ok := h.registry.Get(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "download not found"})
		return
	}

	c.JSON(http.StatusOK, job)
}

// ListDownloads handles GET /api/v1/downloads
func (h *DownloadHandler) ListDownloads(c *gin.Context) {
	downloads := h.registry.SnapshotAll()

	if status := c.Query("status"); status != "" {
		for key, job := range downloads {
			if string(job.Status) != status {
				delete(downloads, key)
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"count":     len(downloads),
		"downloads": downloads,
	})
}

// GetStats handles GET /api/v1/downloads/stats
func (h *DownloadHandler) GetStats(c *gin.Context) {
	stats := h.registry.Stats()
	c.JSON(http.StatusOK, gin.H{
		"jobs":           stats,
		"active_workers": h.dispatcher.Active(),
	})
}
