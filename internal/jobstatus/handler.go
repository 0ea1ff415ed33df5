package jobstatus

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/logging"
	"github.com/therealutkarshpriyadarshi/vodpipe/pkg/models"
)

// Handler exposes job status over HTTP
type Handler struct {
	reader *Reader
	logger *logging.Logger
}

// NewHandler creates a new handler
func NewHandler(reader *Reader, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handler{reader: reader, logger: logger}
}

// Register mounts the job routes on group
func (h *Handler) Register(group *gin.RouterGroup) {
	group.GET("/jobs/:id", h.getJob)
	group.GET("/videos/:content_id/jobs", h.listJobs)
}

func (h *Handler) getJob(c *gin.Context) {
	job, err := h.reader.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to read job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read job"})
		return
	}

	c.JSON(http.StatusOK, job)
}

func (h *Handler) listJobs(c *gin.Context) {
	contentID := c.Param("content_id")
	if !models.IsSafeKeyElement(contentID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid content id"})
		return
	}

	jobs, err := h.reader.ListByContent(c.Request.Context(), contentID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list jobs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list jobs"})
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}

	c.JSON(http.StatusOK, gin.H{
		"content_id": contentID,
		"jobs":       jobs,
	})
}
