package transcoder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/vodpipe/internal/config"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/jobstatus"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/logging"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/metrics"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/queue"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/storage"
	"github.com/therealutkarshpriyadarshi/vodpipe/pkg/models"
)

// ErrJobTimeout is returned when a job exceeds its processing deadline
var ErrJobTimeout = errors.New("job timed out")

// JobQueue is the part of the broker the worker reschedules jobs through
type JobQueue interface {
	PublishToRetryQueue(ctx context.Context, msg *models.TranscodeMessage, retryCount int, delay time.Duration) error
	PublishToDeadLetterQueue(ctx context.Context, msg *models.TranscodeMessage, reason string) error
}

// Worker turns queue deliveries into job runs and decides what happens to
// a delivery that fails
type Worker struct {
	service *Service
	queue   JobQueue
	status  StatusRecorder
	cfg     config.TranscoderConfig
	logger  *logging.Logger
}

// NewWorker creates a new worker
func NewWorker(service *Service, q JobQueue, status StatusRecorder, cfg config.TranscoderConfig, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Worker{
		service: service,
		queue:   q,
		status:  status,
		cfg:     cfg,
		logger:  logger.WithComponent("worker"),
	}
}

// Handle processes one delivery. A nil return acknowledges the message. A
// failed attempt is rescheduled on the retry queue or parked on the dead
// letter queue before the original is acknowledged; an error is returned
// only when the message must be redelivered as is.
func (w *Worker) Handle(ctx context.Context, msg *models.TranscodeMessage, retryCount int) error {
	logger := w.logger.WithJobID(msg.JobID).WithContentID(msg.ContentID)
	logger.Infof("Processing job (attempt %d)", retryCount+1)

	metrics.JobsInProgress.Inc()
	defer metrics.JobsInProgress.Dec()

	jobCtx := ctx
	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.cfg.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	err := w.service.ProcessJob(jobCtx, msg)
	duration := time.Since(start).Seconds()
	strategy := string(w.service.Strategy())

	if err == nil {
		metrics.RecordJobCompleted("done", strategy, duration)
		logger.Infof("Job completed in %.1fs", duration)
		return nil
	}

	if errors.Is(err, jobstatus.ErrJobNotFound) {
		// The asset was deleted while the job was queued
		logger.Warn("Dropping job with no status record")
		return nil
	}

	if ctx.Err() != nil {
		// Shutdown; let the broker redeliver
		return ctx.Err()
	}

	if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %w", ErrJobTimeout, w.cfg.JobTimeout, err)
	}

	metrics.RecordError("worker", errorType(err))

	if IsPermanent(err) || retryCount >= w.cfg.MaxRetries {
		return w.deadLetter(ctx, msg, err, strategy, duration)
	}

	return w.retry(ctx, msg, retryCount, err)
}

func (w *Worker) retry(ctx context.Context, msg *models.TranscodeMessage, retryCount int, cause error) error {
	delay := queue.CalculateBackoffDelay(retryCount, w.cfg.RetryBaseDelay, w.cfg.RetryMaxDelay)
	logger := w.logger.WithJobID(msg.JobID).WithError(cause)
	logger.Warnf("Job failed, retrying in %s", delay)

	if err := w.status.Record(ctx, msg.JobID, models.JobStateRetrying, "", cause); err != nil {
		logger.WithError(err).Warn("Failed to record retrying state")
	}

	if err := w.queue.PublishToRetryQueue(ctx, msg, retryCount, delay); err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}

	metrics.RecordJobRetry()
	return nil
}

func (w *Worker) deadLetter(ctx context.Context, msg *models.TranscodeMessage, cause error, strategy string, duration float64) error {
	logger := w.logger.WithJobID(msg.JobID).WithError(cause)
	logger.Error("Job failed permanently")

	if err := w.status.Record(ctx, msg.JobID, models.JobStateFailed, "", cause); err != nil {
		logger.WithError(err).Warn("Failed to record failed state")
	}

	if err := w.queue.PublishToDeadLetterQueue(ctx, msg, cause.Error()); err != nil {
		return fmt.Errorf("failed to dead-letter job: %w", err)
	}

	metrics.RecordJobDeadLettered()
	metrics.RecordJobCompleted("failed", strategy, duration)
	return nil
}

// IsPermanent reports whether retrying err cannot help
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidMessage) ||
		errors.Is(err, ErrInvalidDimensions) ||
		errors.Is(err, storage.ErrObjectNotFound)
}

func errorType(err error) string {
	switch {
	case errors.Is(err, ErrJobTimeout):
		return "timeout"
	case errors.Is(err, ErrEncoderFailed):
		return "encoder"
	case errors.Is(err, storage.ErrUploadFailed):
		return "upload"
	case IsPermanent(err):
		return "permanent"
	default:
		return "transient"
	}
}
