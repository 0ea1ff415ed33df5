package transcoder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/config"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/jobstatus"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/storage"
	"github.com/therealutkarshpriyadarshi/vodpipe/pkg/models"
)

type fakeQueue struct {
	mu         sync.Mutex
	retries    []time.Duration
	retryCount []int
	dead       []string
	publishErr error
}

func (q *fakeQueue) PublishToRetryQueue(ctx context.Context, msg *models.TranscodeMessage, retryCount int, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.retries = append(q.retries, delay)
	q.retryCount = append(q.retryCount, retryCount)
	return nil
}

func (q *fakeQueue) PublishToDeadLetterQueue(ctx context.Context, msg *models.TranscodeMessage, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.dead = append(q.dead, reason)
	return nil
}

func newTestWorker(t *testing.T, f *fixture, q *fakeQueue) *Worker {
	t.Helper()
	cfg := config.TranscoderConfig{
		MaxRetries:     3,
		RetryBaseDelay: time.Minute,
		RetryMaxDelay:  time.Hour,
		JobTimeout:     time.Minute,
	}
	return NewWorker(f.service, q, f.recorder, cfg, nil)
}

func TestWorkerHandleSuccess(t *testing.T) {
	f := newFixture(t, "sequential")
	q := &fakeQueue{}
	w := newTestWorker(t, f, q)

	require.NoError(t, w.Handle(context.Background(), testMessage("360p"), 0))
	assert.Empty(t, q.retries)
	assert.Empty(t, q.dead)
	assert.Equal(t, models.JobStateDone, f.recorder.last().State)
}

func TestWorkerRetriesTransientFailure(t *testing.T) {
	f := newFixture(t, "sequential")
	f.encoder.fail["360p"] = fmt.Errorf("%w: killed", ErrEncoderFailed)
	q := &fakeQueue{}
	w := newTestWorker(t, f, q)

	require.NoError(t, w.Handle(context.Background(), testMessage("360p"), 1))

	require.Len(t, q.retries, 1)
	assert.Equal(t, 2*time.Minute, q.retries[0])
	assert.Equal(t, []int{1}, q.retryCount)
	assert.Empty(t, q.dead)

	last := f.recorder.last()
	assert.Equal(t, models.JobStateRetrying, last.State)
	assert.ErrorIs(t, last.Cause, ErrEncoderFailed)
}

func TestWorkerDeadLettersAfterMaxRetries(t *testing.T) {
	f := newFixture(t, "sequential")
	f.encoder.fail["360p"] = ErrEncoderFailed
	q := &fakeQueue{}
	w := newTestWorker(t, f, q)

	require.NoError(t, w.Handle(context.Background(), testMessage("360p"), 3))

	assert.Empty(t, q.retries)
	require.Len(t, q.dead, 1)
	assert.Contains(t, q.dead[0], "encoder failed")
	assert.Equal(t, models.JobStateFailed, f.recorder.last().State)
}

func TestWorkerDeadLettersPermanentFailure(t *testing.T) {
	f := newFixture(t, "sequential")
	q := &fakeQueue{}
	w := newTestWorker(t, f, q)

	msg := testMessage("360p")
	msg.ContentID = "../etc"

	require.NoError(t, w.Handle(context.Background(), msg, 0))
	assert.Empty(t, q.retries)
	assert.Len(t, q.dead, 1)
}

func TestWorkerTimeout(t *testing.T) {
	f := newFixture(t, "sequential")
	f.encoder.delay = time.Second
	q := &fakeQueue{}
	w := newTestWorker(t, f, q)
	w.cfg.JobTimeout = 20 * time.Millisecond

	require.NoError(t, w.Handle(context.Background(), testMessage("360p"), 0))

	require.Len(t, q.retries, 1)
	assert.ErrorIs(t, f.recorder.last().Cause, ErrJobTimeout)
}

func TestWorkerAcksUnknownJob(t *testing.T) {
	f := newFixture(t, "sequential")
	f.recorder.startErr = jobstatus.ErrJobNotFound
	q := &fakeQueue{}
	w := newTestWorker(t, f, q)

	require.NoError(t, w.Handle(context.Background(), testMessage("360p"), 0))
	assert.Empty(t, q.retries)
	assert.Empty(t, q.dead)
}

func TestWorkerRequeuesOnShutdown(t *testing.T) {
	f := newFixture(t, "sequential")
	f.encoder.delay = time.Second
	q := &fakeQueue{}
	w := newTestWorker(t, f, q)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := w.Handle(ctx, testMessage("360p"), 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, q.retries)
	assert.Empty(t, q.dead)
}

func TestWorkerReturnsPublishError(t *testing.T) {
	f := newFixture(t, "sequential")
	f.encoder.fail["360p"] = ErrEncoderFailed
	q := &fakeQueue{publishErr: errors.New("channel closed")}
	w := newTestWorker(t, f, q)

	err := w.Handle(context.Background(), testMessage("360p"), 0)
	assert.Error(t, err)
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{fmt.Errorf("wrap: %w", ErrInvalidMessage), true},
		{fmt.Errorf("wrap: %w", ErrInvalidDimensions), true},
		{fmt.Errorf("wrap: %w", storage.ErrObjectNotFound), true},
		{ErrEncoderFailed, false},
		{ErrJobTimeout, false},
		{storage.ErrUploadFailed, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsPermanent(tt.err), tt.err.Error())
	}
}

func TestErrorType(t *testing.T) {
	assert.Equal(t, "timeout", errorType(fmt.Errorf("%w: x", ErrJobTimeout)))
	assert.Equal(t, "encoder", errorType(ErrEncoderFailed))
	assert.Equal(t, "upload", errorType(storage.ErrUploadFailed))
	assert.Equal(t, "permanent", errorType(ErrInvalidMessage))
	assert.Equal(t, "transient", errorType(errors.New("other")))
}
