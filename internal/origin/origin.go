// Package origin serves HLS playlists and segment redirects straight from
// the object store.
package origin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/config"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/logging"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/metrics"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/storage"
	"github.com/therealutkarshpriyadarshi/vodpipe/pkg/models"
)

const playlistContentType = "application/vnd.apple.mpegurl"

var (
	ErrPlaylistNotFound = errors.New("playlist not found")
	ErrSegmentNotFound  = errors.New("segment not found")
)

// ObjectStore is the read side of the storage adapter
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Handler is the stream origin. It keeps no state of its own.
type Handler struct {
	store        ObjectStore
	presignTTL   time.Duration
	cacheControl string
	logger       *logging.Logger
}

// NewHandler creates a stream origin
func NewHandler(store ObjectStore, cfg config.StreamConfig, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}

	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	cacheControl := "no-cache"
	if cfg.ManifestCacheSeconds > 0 {
		cacheControl = "max-age=" + strconv.Itoa(cfg.ManifestCacheSeconds)
	}

	return &Handler{
		store:        store,
		presignTTL:   ttl,
		cacheControl: cacheControl,
		logger:       logger.WithComponent("origin"),
	}
}

// Register mounts the stream routes on router
func (h *Handler) Register(router gin.IRouter) {
	router.GET("/stream/:content_id/*path", h.serve)
	router.HEAD("/stream/:content_id/*path", h.serve)
}

type request struct {
	kind      string // master, index, segment
	contentID string
	key       string
}

// resolve maps a stream path onto a storage key. Anything that is not one
// of the three layouts, or contains an unsafe element, is rejected.
func resolve(contentID, path string) (request, bool) {
	if !models.IsSafeKeyElement(contentID) {
		return request{}, false
	}

	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for _, p := range parts {
		if !models.IsSafeKeyElement(p) {
			return request{}, false
		}
	}

	switch {
	case len(parts) == 1 && parts[0] == models.MasterPlaylistName:
		return request{kind: "master", contentID: contentID, key: models.MasterKey(contentID)}, true
	case len(parts) == 2 && parts[1] == models.IndexPlaylistName:
		return request{kind: "index", contentID: contentID, key: models.IndexKey(contentID, parts[0])}, true
	case len(parts) == 2 && strings.HasSuffix(parts[1], ".ts"):
		return request{kind: "segment", contentID: contentID, key: models.SegmentKey(contentID, parts[0], parts[1])}, true
	default:
		return request{}, false
	}
}

func (h *Handler) serve(c *gin.Context) {
	req, ok := resolve(c.Param("content_id"), c.Param("path"))
	if !ok {
		metrics.RecordStreamRequest("invalid", "404")
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}

	if req.kind == "segment" {
		h.redirectSegment(c, req)
		return
	}
	h.servePlaylist(c, req)
}

func (h *Handler) servePlaylist(c *gin.Context, req request) {
	data, err := h.store.Get(c.Request.Context(), req.key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		metrics.RecordStreamRequest(req.kind, "404")
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Errorf("%w: %s", ErrPlaylistNotFound, req.key).Error()})
		return
	}
	if err != nil {
		h.fail(c, req, err)
		return
	}

	metrics.RecordStreamRequest(req.kind, "200")
	c.Header("Cache-Control", h.cacheControl)
	c.Data(http.StatusOK, playlistContentType, data)
}

// redirectSegment never proxies segment bytes; clients fetch them from the
// store through a short-lived presigned URL
func (h *Handler) redirectSegment(c *gin.Context, req request) {
	ctx := c.Request.Context()

	exists, err := h.store.Exists(ctx, req.key)
	if err != nil {
		h.fail(c, req, err)
		return
	}
	if !exists {
		metrics.RecordStreamRequest(req.kind, "404")
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Errorf("%w: %s", ErrSegmentNotFound, req.key).Error()})
		return
	}

	url, err := h.store.PresignedURL(ctx, req.key, h.presignTTL)
	if err != nil {
		h.fail(c, req, err)
		return
	}

	metrics.RecordStreamRequest(req.kind, "307")
	c.Header("Location", url)
	c.Header("Cache-Control", "no-store")
	c.Status(http.StatusTemporaryRedirect)
}

func (h *Handler) fail(c *gin.Context, req request, err error) {
	h.logger.WithContentID(req.contentID).WithError(err).Errorf("Failed to serve %s", req.key)
	metrics.RecordStreamRequest(req.kind, "500")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read stream"})
}
