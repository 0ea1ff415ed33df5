//go:build postgres

package database

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/vodpipe/pkg/models"
)

func openRepositoryForTest(t *testing.T) *Repository {
	t.Helper()

	dsn := os.Getenv("VODPIPE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("VODPIPE_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)

	db := &DB{Pool: pool}
	require.NoError(t, db.Migrate(ctx))

	_, err = pool.Exec(ctx, `TRUNCATE video_assets CASCADE`)
	require.NoError(t, err)

	t.Cleanup(db.Close)
	return NewRepository(db)
}

func newAsset(id string) (*models.VideoAsset, *models.Job) {
	asset := &models.VideoAsset{
		ContentID:     id,
		Filename:      "movie.mp4",
		StoragePrefix: models.AssetPrefix(id),
		SourceKey:     models.OriginalKey(id, "mp4"),
		ContentType:   "video/mp4",
		Size:          1024,
		Category:      models.CategoryFilm,
	}
	job := &models.Job{
		ContentID: id,
		State:     models.JobStateQueued,
		Qualities: []string{"360p", "720p"},
	}
	return asset, job
}

func TestCreateAndGetAsset(t *testing.T) {
	repo := openRepositoryForTest(t)
	ctx := context.Background()

	asset, job := newAsset("V1")
	require.NoError(t, repo.CreateAsset(ctx, asset, job, nil))
	assert.NotEmpty(t, job.ID)

	got, err := repo.GetAsset(ctx, "V1")
	require.NoError(t, err)
	assert.Equal(t, "V1/original.mp4", got.SourceKey)

	jobs, err := repo.ListJobsByContentID(ctx, "V1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, []string{"360p", "720p"}, jobs[0].Qualities)
}

func TestCreateAssetDuplicate(t *testing.T) {
	repo := openRepositoryForTest(t)
	ctx := context.Background()

	asset, job := newAsset("V2")
	require.NoError(t, repo.CreateAsset(ctx, asset, job, nil))

	called := false
	asset, job = newAsset("V2")
	err := repo.CreateAsset(ctx, asset, job, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.False(t, called, "beforeCommit must not run for a duplicate")
}

func TestCreateAssetRollsBackOnHookFailure(t *testing.T) {
	repo := openRepositoryForTest(t)
	ctx := context.Background()

	asset, job := newAsset("V3")
	err := repo.CreateAsset(ctx, asset, job, func(context.Context) error {
		return errors.New("upload failed")
	})
	require.Error(t, err)

	exists, err := repo.AssetExists(ctx, "V3")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestJobStateUpdates(t *testing.T) {
	repo := openRepositoryForTest(t)
	ctx := context.Background()

	asset, job := newAsset("V4")
	require.NoError(t, repo.CreateAsset(ctx, asset, job, nil))

	started, err := repo.StartJobAttempt(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateReceived, started.State)
	assert.Equal(t, 1, started.Attempts)

	updated, err := repo.UpdateJobState(ctx, job.ID, models.JobStateEncoding, "720p", "")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateEncoding, updated.State)
	assert.Equal(t, "720p", updated.CurrentQuality)

	_, err = repo.UpdateJobState(ctx, "missing", models.JobStateDone, "", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteAssetCascades(t *testing.T) {
	repo := openRepositoryForTest(t)
	ctx := context.Background()

	asset, job := newAsset("V5")
	require.NoError(t, repo.CreateAsset(ctx, asset, job, nil))

	require.NoError(t, repo.DeleteAsset(ctx, "V5"))
	assert.ErrorIs(t, repo.DeleteAsset(ctx, "V5"), ErrNotFound)

	_, err := repo.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
