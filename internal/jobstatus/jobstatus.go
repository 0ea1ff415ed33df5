// Package jobstatus records and serves the lifecycle of transcode jobs.
// Postgres is the source of truth; Redis holds the latest copy of each job
// for status reads.
package jobstatus

import (
	"context"
	"errors"
	"fmt"

	"github.com/therealutkarshpriyadarshi/vodpipe/internal/database"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/logging"
	"github.com/therealutkarshpriyadarshi/vodpipe/pkg/models"
)

// ErrJobNotFound is returned when no job row exists
var ErrJobNotFound = errors.New("job not found")

// Repository is the job half of the metadata store
type Repository interface {
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobsByContentID(ctx context.Context, contentID string) ([]*models.Job, error)
	StartJobAttempt(ctx context.Context, id string) (*models.Job, error)
	UpdateJobState(ctx context.Context, id string, state models.JobState, quality, lastError string) (*models.Job, error)
}

// Cache holds the latest copy of each job
type Cache interface {
	SetJob(ctx context.Context, job *models.Job) error
	SetJobIfAbsent(ctx context.Context, job *models.Job) (bool, error)
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
}

// Notifier is told about jobs reaching a terminal state
type Notifier interface {
	NotifyJobDone(ctx context.Context, job *models.Job) error
	NotifyJobFailed(ctx context.Context, job *models.Job) error
}

// Recorder persists job state changes on the worker side
type Recorder struct {
	repo     Repository
	cache    Cache
	notifier Notifier
	logger   *logging.Logger
}

// NewRecorder creates a recorder. cache and notifier may be nil.
func NewRecorder(repo Repository, cache Cache, notifier Notifier, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Recorder{
		repo:     repo,
		cache:    cache,
		notifier: notifier,
		logger:   logger.WithComponent("jobstatus"),
	}
}

// StartAttempt marks a delivery of msg as received and counts the attempt
func (r *Recorder) StartAttempt(ctx context.Context, msg *models.TranscodeMessage) error {
	job, err := r.repo.StartJobAttempt(ctx, msg.JobID)
	if err != nil {
		return translate(err)
	}

	r.refresh(ctx, job)
	return nil
}

// Record stores state for jobID. cause is kept as the job's last error.
func (r *Recorder) Record(ctx context.Context, jobID string, state models.JobState, quality string, cause error) error {
	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}

	job, err := r.repo.UpdateJobState(ctx, jobID, state, quality, lastError)
	if err != nil {
		return translate(err)
	}

	r.refresh(ctx, job)

	if r.notifier != nil {
		switch state {
		case models.JobStateDone:
			err = r.notifier.NotifyJobDone(ctx, job)
		case models.JobStateFailed:
			err = r.notifier.NotifyJobFailed(ctx, job)
		}
		if err != nil {
			r.logger.WithJobID(jobID).WithError(err).Warn("Failed to queue job notification")
		}
	}

	return nil
}

func (r *Recorder) refresh(ctx context.Context, job *models.Job) {
	if r.cache == nil {
		return
	}
	if err := r.cache.SetJob(ctx, job); err != nil {
		r.logger.WithJobID(job.ID).WithError(err).Warn("Failed to cache job")
	}
}

// Reader serves job status on the API side
type Reader struct {
	repo   Repository
	cache  Cache
	logger *logging.Logger
}

// NewReader creates a reader. cache may be nil.
func NewReader(repo Repository, cache Cache, logger *logging.Logger) *Reader {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Reader{
		repo:   repo,
		cache:  cache,
		logger: logger.WithComponent("jobstatus"),
	}
}

// Get returns a job, from the cache when it holds a copy
func (r *Reader) Get(ctx context.Context, jobID string) (*models.Job, error) {
	if r.cache != nil {
		job, err := r.cache.GetJob(ctx, jobID)
		if err != nil {
			r.logger.WithJobID(jobID).WithError(err).Warn("Job cache read failed")
		} else if job != nil {
			return job, nil
		}
	}

	job, err := r.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, translate(err)
	}

	// A worker may have cached a newer state since the row was read
	if r.cache != nil {
		if _, err := r.cache.SetJobIfAbsent(ctx, job); err != nil {
			r.logger.WithJobID(jobID).WithError(err).Warn("Failed to cache job")
		}
	}

	return job, nil
}

// ListByContent returns every job of a content id, newest first
func (r *Reader) ListByContent(ctx context.Context, contentID string) ([]*models.Job, error) {
	jobs, err := r.repo.ListJobsByContentID(ctx, contentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

func translate(err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrJobNotFound, err)
	}
	return err
}
