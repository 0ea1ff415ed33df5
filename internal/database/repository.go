package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/metrics"
	"github.com/therealutkarshpriyadarshi/vodpipe/pkg/models"
)

// uniqueViolation is the Postgres SQLSTATE for a duplicate key
const uniqueViolation = "23505"

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists is returned when a content id is already registered
	ErrAlreadyExists = errors.New("record already exists")
)

// Repository provides database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Assets

// CreateAsset inserts an asset and its initial job in one transaction.
// beforeCommit runs after both rows are written and before commit; if it
// fails, nothing is persisted. A duplicate content id is reported as
// ErrAlreadyExists before beforeCommit runs.
func (r *Repository) CreateAsset(ctx context.Context, asset *models.VideoAsset, job *models.Job, beforeCommit func(ctx context.Context) error) (err error) {
	defer observe("create_asset", time.Now(), &err)

	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO video_assets (content_id, filename, storage_prefix, source_key, content_type, size, category)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`,
		asset.ContentID, asset.Filename, asset.StoragePrefix, asset.SourceKey,
		asset.ContentType, asset.Size, asset.Category,
	).Scan(&asset.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, asset.ContentID)
	}
	if err != nil {
		return fmt.Errorf("failed to create asset: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO transcode_jobs (id, content_id, state, qualities)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, job.ID, job.ContentID, job.State, job.Qualities).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	if beforeCommit != nil {
		if err := beforeCommit(ctx); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit asset: %w", err)
	}

	return nil
}

// GetAsset retrieves an asset by content id
func (r *Repository) GetAsset(ctx context.Context, contentID string) (_ *models.VideoAsset, err error) {
	defer observe("get_asset", time.Now(), &err)

	var asset models.VideoAsset
	err = r.db.Pool.QueryRow(ctx, `
		SELECT content_id, filename, storage_prefix, source_key, content_type, size, category, created_at
		FROM video_assets
		WHERE content_id = $1
	`, contentID).Scan(
		&asset.ContentID, &asset.Filename, &asset.StoragePrefix, &asset.SourceKey,
		&asset.ContentType, &asset.Size, &asset.Category, &asset.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}

	return &asset, nil
}

// AssetExists reports whether a content id is registered
func (r *Repository) AssetExists(ctx context.Context, contentID string) (_ bool, err error) {
	defer observe("asset_exists", time.Now(), &err)

	var exists bool
	err = r.db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM video_assets WHERE content_id = $1)`, contentID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check asset: %w", err)
	}

	return exists, nil
}

// DeleteAsset removes an asset; its jobs go with it
func (r *Repository) DeleteAsset(ctx context.Context, contentID string) (err error) {
	defer observe("delete_asset", time.Now(), &err)

	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM video_assets WHERE content_id = $1`, contentID)
	if err != nil {
		return fmt.Errorf("failed to delete asset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// Jobs

const jobColumns = `id, content_id, state, qualities, current_quality, attempts, last_error, created_at, updated_at`

// GetJob retrieves a job by ID
func (r *Repository) GetJob(ctx context.Context, id string) (_ *models.Job, err error) {
	defer observe("get_job", time.Now(), &err)

	job, err := scanJob(r.db.Pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM transcode_jobs WHERE id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// ListJobsByContentID retrieves every job for an asset, newest first
func (r *Repository) ListJobsByContentID(ctx context.Context, contentID string) (_ []*models.Job, err error) {
	defer observe("list_jobs", time.Now(), &err)

	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+jobColumns+` FROM transcode_jobs WHERE content_id = $1 ORDER BY created_at DESC`, contentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}

// StartJobAttempt moves a job back to received and counts the attempt
func (r *Repository) StartJobAttempt(ctx context.Context, id string) (_ *models.Job, err error) {
	defer observe("start_job_attempt", time.Now(), &err)

	job, err := scanJob(r.db.Pool.QueryRow(ctx, `
		UPDATE transcode_jobs
		SET state = $2, attempts = attempts + 1, current_quality = '', updated_at = NOW()
		WHERE id = $1
		RETURNING `+jobColumns,
		id, models.JobStateReceived,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to start job attempt: %w", err)
	}

	return job, nil
}

// UpdateJobState records a state change and returns the updated row
func (r *Repository) UpdateJobState(ctx context.Context, id string, state models.JobState, quality, lastError string) (_ *models.Job, err error) {
	defer observe("update_job_state", time.Now(), &err)

	job, err := scanJob(r.db.Pool.QueryRow(ctx, `
		UPDATE transcode_jobs
		SET state = $2, current_quality = $3, last_error = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING `+jobColumns,
		id, state, quality, lastError,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update job state: %w", err)
	}

	return job, nil
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var job models.Job
	err := row.Scan(
		&job.ID, &job.ContentID, &job.State, &job.Qualities, &job.CurrentQuality,
		&job.Attempts, &job.LastError, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func observe(operation string, start time.Time, errp *error) {
	status := "success"
	if *errp != nil && !errors.Is(*errp, ErrNotFound) {
		status = "error"
	}
	metrics.RecordDatabaseOperation(operation, status, time.Since(start).Seconds())
}
