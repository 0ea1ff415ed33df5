package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/therealutkarshpriyadarshi/vodpipe/internal/config"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/database"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/logging"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/metrics"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/tracing"
	"github.com/therealutkarshpriyadarshi/vodpipe/pkg/models"
)

var (
	ErrInvalidContentType = errors.New("invalid content type")
	ErrNoExtension        = errors.New("filename has no extension")
	ErrExtensionTooLong   = errors.New("filename extension too long")
	ErrInvalidExtension   = errors.New("invalid filename extension")
	ErrVideoAlreadyExists = errors.New("video already exists")
	ErrVideoNotFound      = errors.New("video not found")
	ErrInvalidContentID   = errors.New("invalid content id")
	ErrInvalidQuality     = errors.New("invalid quality")
	ErrInvalidCategory    = errors.New("invalid category")
	ErrTooLarge           = errors.New("upload too large")
)

// AssetStore is the asset half of the metadata store
type AssetStore interface {
	CreateAsset(ctx context.Context, asset *models.VideoAsset, job *models.Job, beforeCommit func(ctx context.Context) error) error
	GetAsset(ctx context.Context, contentID string) (*models.VideoAsset, error)
	DeleteAsset(ctx context.Context, contentID string) error
}

// ObjectStore is the part of the storage adapter ingestion writes through
type ObjectStore interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
}

// Publisher enqueues transcode jobs
type Publisher interface {
	PublishJob(ctx context.Context, msg *models.TranscodeMessage) error
}

// JobCache drops cached job status of deleted assets
type JobCache interface {
	DeleteContentJobs(ctx context.Context, contentID string) error
}

// Request is one upload
type Request struct {
	ContentID   string
	Category    string
	Qualities   []string
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Result acknowledges an accepted upload
type Result struct {
	Asset *models.VideoAsset `json:"asset"`
	Job   *models.Job        `json:"job"`
}

// Service owns asset creation and deletion
type Service struct {
	assets    AssetStore
	store     ObjectStore
	publisher Publisher
	jobCache  JobCache
	cfg       config.IngestConfig
	allowed   map[string]bool
	logger    *logging.Logger
}

// NewService creates an ingestion service. jobCache may be nil.
func NewService(cfg config.IngestConfig, assets AssetStore, store ObjectStore, publisher Publisher, jobCache JobCache, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}

	allowed := make(map[string]bool, len(cfg.AllowedContentTypes))
	for _, ct := range cfg.AllowedContentTypes {
		allowed[strings.ToLower(ct)] = true
	}

	return &Service{
		assets:    assets,
		store:     store,
		publisher: publisher,
		jobCache:  jobCache,
		cfg:       cfg,
		allowed:   allowed,
		logger:    logger.WithComponent("ingest"),
	}
}

// Ingest validates an upload, stores the original, commits the asset and
// enqueues its transcode job. Validation failures happen before any write.
// The metadata commit waits for the storage write, and a failed enqueue
// removes both again.
func (s *Service) Ingest(ctx context.Context, req Request) (_ *Result, err error) {
	span, ctx := tracing.StartSpan(ctx, "ingest.ingest")
	tracing.SetTag(span, "content_id", req.ContentID)
	defer func() { tracing.FinishSpan(span, err) }()

	defer func() {
		metrics.RecordIngest(outcome(err), req.Size)
	}()

	if !models.IsSafeKeyElement(req.ContentID) || strings.Contains(req.ContentID, ".") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidContentID, req.ContentID)
	}

	contentType, err := s.checkContentType(req.ContentType)
	if err != nil {
		return nil, err
	}

	category, err := normalizeCategory(req.Category)
	if err != nil {
		return nil, err
	}

	qualities, err := s.normalizeQualities(req.Qualities)
	if err != nil {
		return nil, err
	}

	if s.cfg.MaxUploadBytes > 0 && req.Size > s.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, req.Size)
	}

	filename, ext, err := SanitizeFilename(req.Filename, s.cfg.MaxExtensionLength, s.cfg.MaxFilenameLength)
	if err != nil {
		return nil, err
	}

	asset := &models.VideoAsset{
		ContentID:     req.ContentID,
		Filename:      filename,
		StoragePrefix: models.AssetPrefix(req.ContentID),
		SourceKey:     models.OriginalKey(req.ContentID, ext),
		ContentType:   contentType,
		Size:          req.Size,
		Category:      category,
	}
	job := &models.Job{
		ContentID: req.ContentID,
		State:     models.JobStateQueued,
		Qualities: qualities,
	}

	logger := s.logger.WithContentID(req.ContentID)

	err = s.assets.CreateAsset(ctx, asset, job, func(ctx context.Context) error {
		return s.store.Upload(ctx, asset.SourceKey, req.Body, req.Size, contentType)
	})
	if errors.Is(err, database.ErrAlreadyExists) {
		return nil, fmt.Errorf("%w: %s", ErrVideoAlreadyExists, req.ContentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to store asset: %w", err)
	}

	msg := &models.TranscodeMessage{
		JobID:             job.ID,
		ContentID:         asset.ContentID,
		SourceKey:         asset.SourceKey,
		DestinationPrefix: asset.StoragePrefix,
		Qualities:         qualities,
	}
	if err := s.publisher.PublishJob(ctx, msg); err != nil {
		logger.WithError(err).Error("Failed to enqueue transcode job, rolling back asset")
		s.compensate(context.WithoutCancel(ctx), asset.ContentID)
		return nil, fmt.Errorf("failed to enqueue transcode job: %w", err)
	}
	metrics.RecordJobPublished()

	logger.LogJobEvent(job.ID, asset.ContentID, string(job.State), map[string]interface{}{
		"qualities": qualities,
		"size":      req.Size,
	})

	return &Result{Asset: asset, Job: job}, nil
}

// compensate removes an asset whose job could not be enqueued. Leftovers
// are collected by the orphan sweep.
func (s *Service) compensate(ctx context.Context, contentID string) {
	logger := s.logger.WithContentID(contentID)

	if err := s.assets.DeleteAsset(ctx, contentID); err != nil && !errors.Is(err, database.ErrNotFound) {
		logger.WithError(err).Error("Failed to remove asset row")
	}
	if _, err := s.store.DeleteByPrefix(ctx, models.AssetPrefix(contentID)); err != nil {
		logger.WithError(err).Error("Failed to remove uploaded original")
	}
}

// Get returns a stored asset
func (s *Service) Get(ctx context.Context, contentID string) (*models.VideoAsset, error) {
	asset, err := s.assets.GetAsset(ctx, contentID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrVideoNotFound, contentID)
	}
	return asset, err
}

// Delete removes the asset row, then every object under its prefix. The row
// stays deleted when storage cleanup fails; the returned count and error
// describe the cleanup, and the orphan sweep retries it later.
func (s *Service) Delete(ctx context.Context, contentID string) (int, error) {
	if !models.IsSafeKeyElement(contentID) {
		return 0, fmt.Errorf("%w: %s", ErrVideoNotFound, contentID)
	}

	if err := s.assets.DeleteAsset(ctx, contentID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return 0, fmt.Errorf("%w: %s", ErrVideoNotFound, contentID)
		}
		return 0, fmt.Errorf("failed to delete asset: %w", err)
	}
	metrics.RecordVideoDeleted()

	logger := s.logger.WithContentID(contentID)

	if s.jobCache != nil {
		if err := s.jobCache.DeleteContentJobs(ctx, contentID); err != nil {
			logger.WithError(err).Warn("Failed to evict cached jobs")
		}
	}

	removed, err := s.store.DeleteByPrefix(ctx, models.AssetPrefix(contentID))
	if err != nil {
		logger.WithError(err).Warnf("Storage cleanup incomplete after removing %d objects", removed)
		return removed, &CleanupError{ContentID: contentID, Removed: removed, Err: err}
	}

	logger.Infof("Deleted asset and %d objects", removed)
	return removed, nil
}

// CleanupError reports that an asset row was deleted but some of its
// objects were not
type CleanupError struct {
	ContentID string
	Removed   int
	Err       error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("storage cleanup for %s incomplete after %d objects: %v", e.ContentID, e.Removed, e.Err)
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}

func (s *Service) checkContentType(raw string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidContentType, raw)
	}
	if !s.allowed[mediaType] {
		return "", fmt.Errorf("%w: %s", ErrInvalidContentType, mediaType)
	}
	return mediaType, nil
}

func (s *Service) normalizeQualities(requested []string) ([]string, error) {
	var qualities []string
	seen := make(map[string]bool)

	for _, entry := range requested {
		for _, q := range strings.Split(entry, ",") {
			q = strings.TrimSpace(q)
			if q == "" {
				continue
			}
			if !models.IsSafeKeyElement(q) || strings.Contains(q, ".") || !models.IsSupportedQuality(q) {
				return nil, fmt.Errorf("%w: %q", ErrInvalidQuality, q)
			}
			if !seen[q] {
				seen[q] = true
				qualities = append(qualities, q)
			}
		}
	}

	if len(qualities) == 0 {
		qualities = append(qualities, s.cfg.DefaultQualities...)
	}
	if len(qualities) == 0 {
		return nil, fmt.Errorf("%w: none requested", ErrInvalidQuality)
	}

	return qualities, nil
}

func normalizeCategory(category string) (string, error) {
	category = strings.ToLower(strings.TrimSpace(category))
	switch category {
	case "", models.CategoryFilm, models.CategoryEpisodic:
		return category, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, ErrVideoAlreadyExists):
		return "duplicate"
	case errors.Is(err, ErrInvalidContentType), errors.Is(err, ErrNoExtension),
		errors.Is(err, ErrExtensionTooLong), errors.Is(err, ErrInvalidExtension),
		errors.Is(err, ErrInvalidContentID), errors.Is(err, ErrInvalidQuality),
		errors.Is(err, ErrInvalidCategory), errors.Is(err, ErrTooLarge):
		return "rejected"
	default:
		return "error"
	}
}
