package transcoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/vodpipe/internal/config"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/logging"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/metrics"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/storage"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/tracing"
	"github.com/therealutkarshpriyadarshi/vodpipe/pkg/models"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrInvalidMessage is returned for queue payloads that can never succeed
	ErrInvalidMessage = errors.New("invalid transcode message")

	// ErrNoRenditions is returned when no published rendition exists for the master
	ErrNoRenditions = errors.New("no published renditions")
)

// Strategy selects how the qualities of one job are encoded
type Strategy string

const (
	// StrategySequential encodes one quality at a time
	StrategySequential Strategy = "sequential"

	// StrategyParallel encodes up to MaxConcurrent qualities at once and
	// joins before the master playlist is regenerated
	StrategyParallel Strategy = "parallel"
)

// Encoder produces renditions from a local source file
type Encoder interface {
	Probe(ctx context.Context, inputPath string) (*ProbeResult, error)
	EncodeHLS(ctx context.Context, opts EncodeOptions) error
}

// ObjectStore is the part of the storage adapter the worker uses
type ObjectStore interface {
	DownloadFile(ctx context.Context, key, filePath string) error
	UploadFile(ctx context.Context, key, filePath string) error
	UploadBytes(ctx context.Context, key string, data []byte, contentType string) error
	ListByPrefix(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
}

// StatusRecorder persists job state changes
type StatusRecorder interface {
	StartAttempt(ctx context.Context, msg *models.TranscodeMessage) error
	Record(ctx context.Context, jobID string, state models.JobState, quality string, cause error) error
}

// Service orchestrates transcoding operations
type Service struct {
	encoder  Encoder
	store    ObjectStore
	status   StatusRecorder
	cfg      config.TranscoderConfig
	strategy Strategy
	logger   *logging.Logger
}

// NewService creates a new transcoder service
func NewService(cfg config.TranscoderConfig, encoder Encoder, store ObjectStore, status StatusRecorder, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}

	strategy := Strategy(cfg.Strategy)
	if strategy != StrategyParallel {
		strategy = StrategySequential
	}

	return &Service{
		encoder:  encoder,
		store:    store,
		status:   status,
		cfg:      cfg,
		strategy: strategy,
		logger:   logger.WithComponent("transcoder"),
	}
}

// Strategy returns the configured encoding strategy
func (s *Service) Strategy() Strategy {
	return s.strategy
}

// ProcessJob runs one delivery of a transcode message to completion. Every
// run starts over from the source, so redelivering a job is safe: each
// rendition prefix is purged before it is rewritten and the master playlist
// is rebuilt from what is actually published.
func (s *Service) ProcessJob(ctx context.Context, msg *models.TranscodeMessage) (err error) {
	span, ctx := tracing.StartSpan(ctx, "transcoder.process_job")
	tracing.SetTag(span, "job_id", msg.JobID)
	tracing.SetTag(span, "content_id", msg.ContentID)
	tracing.SetTag(span, "strategy", string(s.strategy))
	defer func() { tracing.FinishSpan(span, err) }()

	if err := ValidateMessage(msg); err != nil {
		return err
	}

	logger := s.logger.WithJobID(msg.JobID).WithContentID(msg.ContentID)

	if err := s.status.StartAttempt(ctx, msg); err != nil {
		return fmt.Errorf("failed to start job attempt: %w", err)
	}

	run := &jobRun{
		msg:    msg,
		state:  models.JobStateReceived,
		status: s.status,
		logger: logger,
	}
	logger.LogJobEvent(msg.JobID, msg.ContentID, string(models.JobStateReceived), nil)

	if err := os.MkdirAll(s.cfg.TempDir, 0755); err != nil {
		return fmt.Errorf("failed to create temp root: %w", err)
	}
	workDir, err := os.MkdirTemp(s.cfg.TempDir, msg.JobID+"-")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			logger.WithError(rmErr).Warn("Failed to remove work directory")
		}
	}()

	if err := run.advance(ctx, models.JobStateDownloading, ""); err != nil {
		return err
	}

	inputPath := filepath.Join(workDir, "source"+sourceExtension(msg.SourceKey))
	if err := s.store.DownloadFile(ctx, msg.SourceKey, inputPath); err != nil {
		return fmt.Errorf("failed to download source: %w", err)
	}

	probe, err := s.encoder.Probe(ctx, inputPath)
	if err != nil {
		return fmt.Errorf("failed to probe source: %w", err)
	}
	logger.Infof("Probed source %dx%d, %.1fs", probe.Width, probe.Height, probe.Duration)

	if err := s.encodeRenditions(ctx, run, inputPath, workDir, probe); err != nil {
		return err
	}

	if err := run.advance(ctx, models.JobStateRegeneratingManifest, ""); err != nil {
		return err
	}

	entries, err := s.regenerateMaster(ctx, msg.ContentID, probe)
	if err != nil {
		return err
	}
	logger.Infof("Master playlist written with %d renditions", entries)

	return run.advance(ctx, models.JobStateDone, "")
}

func (s *Service) encodeRenditions(ctx context.Context, run *jobRun, inputPath, workDir string, probe *ProbeResult) error {
	if s.strategy == StrategyParallel {
		g, gctx := errgroup.WithContext(ctx)
		limit := s.cfg.MaxConcurrent
		if limit <= 0 {
			limit = 1
		}
		g.SetLimit(limit)

		for _, quality := range run.msg.Qualities {
			quality := quality
			g.Go(func() error {
				return s.renderQuality(gctx, run, quality, inputPath, workDir, probe)
			})
		}
		return g.Wait()
	}

	for _, quality := range run.msg.Qualities {
		if err := s.renderQuality(ctx, run, quality, inputPath, workDir, probe); err != nil {
			return err
		}
	}
	return nil
}

// renderQuality encodes one quality locally, then replaces its published copy
func (s *Service) renderQuality(ctx context.Context, run *jobRun, quality, inputPath, workDir string, probe *ProbeResult) (err error) {
	span, ctx := tracing.StartSpan(ctx, "transcoder.render_quality")
	tracing.SetTag(span, "quality", quality)
	defer func() { tracing.FinishSpan(span, err) }()

	variant, profile, err := VariantFor(quality, probe)
	if err != nil {
		return err
	}

	if err := run.advance(ctx, models.JobStateEncoding, quality); err != nil {
		return err
	}

	outputDir := filepath.Join(workDir, "renditions", quality)
	start := time.Now()
	err = s.encoder.EncodeHLS(ctx, EncodeOptions{
		InputPath: inputPath,
		OutputDir: outputDir,
		Width:     variant.Width,
		Height:    variant.Height,
		Profile:   profile,
		HasAudio:  probe.HasAudio,
	})
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", quality, err)
	}
	metrics.RecordRenditionEncoded(quality, time.Since(start).Seconds())

	if err := run.advance(ctx, models.JobStatePublishing, quality); err != nil {
		return err
	}

	if err := s.publishRendition(ctx, run.msg.ContentID, quality, outputDir); err != nil {
		return fmt.Errorf("failed to publish %s: %w", quality, err)
	}
	metrics.RecordRenditionPublished(quality)

	return nil
}

// publishRendition purges {content_id}/{quality}/ and uploads the local
// rendition. The index playlist goes up last; its presence marks the
// rendition complete.
func (s *Service) publishRendition(ctx context.Context, contentID, quality, dir string) error {
	segments, index, err := renditionFiles(dir)
	if err != nil {
		return err
	}

	removed, err := s.store.DeleteByPrefix(ctx, models.RenditionPrefix(contentID, quality))
	if err != nil {
		return fmt.Errorf("failed to purge rendition: %w", err)
	}
	if removed > 0 {
		s.logger.WithContentID(contentID).WithQuality(quality).Infof("Purged %d stale objects", removed)
	}

	for _, segment := range segments {
		key := models.SegmentKey(contentID, quality, filepath.Base(segment))
		if err := s.store.UploadFile(ctx, key, segment); err != nil {
			return err
		}
	}

	return s.store.UploadFile(ctx, models.IndexKey(contentID, quality), index)
}

// regenerateMaster overwrites the master playlist with one entry per quality
// whose index playlist exists in storage
func (s *Service) regenerateMaster(ctx context.Context, contentID string, probe *ProbeResult) (int, error) {
	objects, err := s.store.ListByPrefix(ctx, models.AssetPrefix(contentID))
	if err != nil {
		return 0, fmt.Errorf("failed to list renditions: %w", err)
	}

	var qualities []string
	for _, obj := range objects {
		if quality, ok := models.QualityFromIndexKey(contentID, obj.Key); ok {
			qualities = append(qualities, quality)
		}
	}
	if len(qualities) == 0 {
		return 0, ErrNoRenditions
	}
	sort.Strings(qualities)

	variants := make([]Variant, 0, len(qualities))
	for _, quality := range qualities {
		variant, _, err := VariantFor(quality, probe)
		if err != nil {
			return 0, err
		}
		variants = append(variants, variant)
	}

	playlist := BuildMasterPlaylist(variants)
	if err := s.store.UploadBytes(ctx, models.MasterKey(contentID), playlist, "application/vnd.apple.mpegurl"); err != nil {
		return 0, fmt.Errorf("failed to write master playlist: %w", err)
	}

	return len(variants), nil
}

// ValidateMessage rejects payloads whose keys could escape the asset prefix
func ValidateMessage(msg *models.TranscodeMessage) error {
	if msg.JobID == "" {
		return fmt.Errorf("%w: missing job id", ErrInvalidMessage)
	}
	if !models.IsSafeKeyElement(msg.ContentID) {
		return fmt.Errorf("%w: unsafe content id %q", ErrInvalidMessage, msg.ContentID)
	}
	if msg.DestinationPrefix != "" && msg.DestinationPrefix != models.AssetPrefix(msg.ContentID) {
		return fmt.Errorf("%w: destination %q outside asset prefix", ErrInvalidMessage, msg.DestinationPrefix)
	}
	if len(msg.Qualities) == 0 {
		return fmt.Errorf("%w: no qualities requested", ErrInvalidMessage)
	}

	seen := make(map[string]bool, len(msg.Qualities))
	for _, quality := range msg.Qualities {
		if !models.IsSafeKeyElement(quality) || !models.IsSupportedQuality(quality) || seen[quality] {
			return fmt.Errorf("%w: bad quality %q", ErrInvalidMessage, quality)
		}
		seen[quality] = true
	}

	return nil
}

// jobRun tracks the state of one delivery. advance is safe for concurrent
// use by the parallel strategy.
type jobRun struct {
	mu     sync.Mutex
	msg    *models.TranscodeMessage
	state  models.JobState
	status StatusRecorder
	logger *logging.Logger
}

func (r *jobRun) advance(ctx context.Context, to models.JobState, quality string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !models.CanTransition(r.state, to) {
		return fmt.Errorf("illegal job transition %s -> %s", r.state, to)
	}
	r.state = to

	details := map[string]interface{}{}
	if quality != "" {
		details["quality"] = quality
	}
	r.logger.LogJobEvent(r.msg.JobID, r.msg.ContentID, string(to), details)

	// Status is advisory while the job runs; the pipeline does not stop for it
	if err := r.status.Record(ctx, r.msg.JobID, to, quality, nil); err != nil {
		r.logger.WithError(err).Warn("Failed to record job state")
	}

	return nil
}
