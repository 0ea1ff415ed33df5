package ingest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/logging"
)

// Handler exposes ingestion and deletion over HTTP
type Handler struct {
	service *Service
	logger  *logging.Logger
}

// NewHandler creates a new handler
func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handler{service: service, logger: logger}
}

// Register mounts the video routes on group. writes guard the mutating
// endpoints.
func (h *Handler) Register(group *gin.RouterGroup, writes ...gin.HandlerFunc) {
	group.GET("/videos/:content_id", h.getVideo)
	group.POST("/videos", chain(writes, h.uploadVideo)...)
	group.DELETE("/videos/:content_id", chain(writes, h.deleteVideo)...)
}

func chain(middleware []gin.HandlerFunc, handler gin.HandlerFunc) []gin.HandlerFunc {
	handlers := make([]gin.HandlerFunc, 0, len(middleware)+1)
	handlers = append(handlers, middleware...)
	return append(handlers, handler)
}

// Upload video endpoint
func (h *Handler) uploadVideo(c *gin.Context) {
	if limit := h.service.cfg.MaxUploadBytes; limit > 0 {
		// Leave room for the multipart envelope
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+1<<20)
	}

	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Upload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No video file provided"})
		return
	}

	body, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read upload"})
		return
	}
	defer body.Close()

	qualities := c.PostFormArray("qualities")

	result, err := h.service.Ingest(c.Request.Context(), Request{
		ContentID:   c.PostForm("content_id"),
		Category:    c.PostForm("category"),
		Qualities:   qualities,
		Filename:    file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		Size:        file.Size,
		Body:        body,
	})
	if err != nil {
		status, message := ingestStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.WithError(err).Error("Ingestion failed")
		}
		c.JSON(status, gin.H{"error": message})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"content_id": result.Asset.ContentID,
		"filename":   result.Asset.Filename,
		"source_key": result.Asset.SourceKey,
		"job_id":     result.Job.ID,
		"state":      result.Job.State,
		"qualities":  result.Job.Qualities,
	})
}

func (h *Handler) getVideo(c *gin.Context) {
	asset, err := h.service.Get(c.Request.Context(), c.Param("content_id"))
	if errors.Is(err, ErrVideoNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to read video")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read video"})
		return
	}

	c.JSON(http.StatusOK, asset)
}

func (h *Handler) deleteVideo(c *gin.Context) {
	_, err := h.service.Delete(c.Request.Context(), c.Param("content_id"))

	var cleanup *CleanupError
	switch {
	case err == nil, errors.As(err, &cleanup):
		// The asset is gone either way; leftover objects are swept later
		c.Status(http.StatusNoContent)
	case errors.Is(err, ErrVideoNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
	default:
		h.logger.WithError(err).Error("Failed to delete video")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete video"})
	}
}

func ingestStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidContentType):
		return http.StatusUnsupportedMediaType, err.Error()
	case errors.Is(err, ErrNoExtension), errors.Is(err, ErrExtensionTooLong),
		errors.Is(err, ErrInvalidExtension), errors.Is(err, ErrInvalidQuality):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, ErrInvalidContentID), errors.Is(err, ErrInvalidCategory):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, ErrVideoAlreadyExists):
		return http.StatusConflict, err.Error()
	default:
		return http.StatusInternalServerError, "Failed to ingest video"
	}
}
