package transcoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/config"
	"github.com/therealutkarshpriyadarshi/vodpipe/internal/storage"
	"github.com/therealutkarshpriyadarshi/vodpipe/pkg/models"
)

// fakeEncoder writes a plausible HLS rendition without running ffmpeg
type fakeEncoder struct {
	probe    ProbeResult
	probeErr error
	segments map[string]int
	fail     map[string]error
	delay    time.Duration

	mu      sync.Mutex
	encoded []EncodeOptions

	running    int32
	maxRunning int32
}

func newFakeEncoder() *fakeEncoder {
	return &fakeEncoder{
		probe:    ProbeResult{Width: 1920, Height: 1080, Duration: 30, HasAudio: true},
		segments: map[string]int{},
		fail:     map[string]error{},
	}
}

func (f *fakeEncoder) Probe(ctx context.Context, inputPath string) (*ProbeResult, error) {
	if _, err := os.Stat(inputPath); err != nil {
		return nil, err
	}
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	result := f.probe
	return &result, nil
}

func (f *fakeEncoder) EncodeHLS(ctx context.Context, opts EncodeOptions) error {
	n := atomic.AddInt32(&f.running, 1)
	defer atomic.AddInt32(&f.running, -1)
	for {
		max := atomic.LoadInt32(&f.maxRunning)
		if n <= max || atomic.CompareAndSwapInt32(&f.maxRunning, max, n) {
			break
		}
	}

	f.mu.Lock()
	f.encoded = append(f.encoded, opts)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := f.fail[opts.Profile.Name]; err != nil {
		return err
	}

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return err
	}

	count := f.segments[opts.Profile.Name]
	if count == 0 {
		count = 3
	}

	var index strings.Builder
	index.WriteString("#EXTM3U\n#EXT-X-PLAYLIST-TYPE:VOD\n")
	for i := 0; i < count; i++ {
		name := fmt.Sprintf(models.SegmentPattern, i)
		if err := os.WriteFile(filepath.Join(opts.OutputDir, name), []byte("ts"), 0644); err != nil {
			return err
		}
		index.WriteString("#EXTINF:6.0,\n" + name + "\n")
	}
	index.WriteString("#EXT-X-ENDLIST\n")

	return os.WriteFile(filepath.Join(opts.OutputDir, models.IndexPlaylistName), []byte(index.String()), 0644)
}

func (f *fakeEncoder) encodedQualities() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	qualities := make([]string, 0, len(f.encoded))
	for _, opts := range f.encoded {
		qualities = append(qualities, opts.Profile.Name)
	}
	return qualities
}

type recordedState struct {
	State   models.JobState
	Quality string
	Cause   error
}

type fakeRecorder struct {
	mu       sync.Mutex
	started  int
	startErr error
	states   []recordedState
}

func (r *fakeRecorder) StartAttempt(ctx context.Context, msg *models.TranscodeMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
	return r.startErr
}

func (r *fakeRecorder) Record(ctx context.Context, jobID string, state models.JobState, quality string, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, recordedState{State: state, Quality: quality, Cause: cause})
	return nil
}

func (r *fakeRecorder) last() recordedState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return recordedState{}
	}
	return r.states[len(r.states)-1]
}

type fixture struct {
	service  *Service
	encoder  *fakeEncoder
	recorder *fakeRecorder
	store    *storage.Storage
	backend  *storage.MemoryBackend
	tempDir  string
}

func newFixture(t *testing.T, strategy string) *fixture {
	t.Helper()

	backend := storage.NewMemoryBackend("videos")
	store := storage.NewWithBackend(backend, nil)
	encoder := newFakeEncoder()
	recorder := &fakeRecorder{}
	tempDir := t.TempDir()

	cfg := config.TranscoderConfig{
		TempDir:       tempDir,
		Strategy:      strategy,
		MaxConcurrent: 2,
	}

	require.NoError(t, store.UploadBytes(context.Background(), models.OriginalKey("V1", "mp4"), []byte("source"), "video/mp4"))

	return &fixture{
		service:  NewService(cfg, encoder, store, recorder, nil),
		encoder:  encoder,
		recorder: recorder,
		store:    store,
		backend:  backend,
		tempDir:  tempDir,
	}
}

func testMessage(qualities ...string) *models.TranscodeMessage {
	return &models.TranscodeMessage{
		JobID:             "job-1",
		ContentID:         "V1",
		SourceKey:         models.OriginalKey("V1", "mp4"),
		DestinationPrefix: models.AssetPrefix("V1"),
		Qualities:         qualities,
	}
}

func keysUnder(t *testing.T, store *storage.Storage, prefix string) []string {
	t.Helper()
	objects, err := store.ListByPrefix(context.Background(), prefix)
	require.NoError(t, err)

	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		keys = append(keys, obj.Key)
	}
	return keys
}

func TestProcessJobSequential(t *testing.T) {
	f := newFixture(t, "sequential")
	ctx := context.Background()

	err := f.service.ProcessJob(ctx, testMessage("360p", "720p"))
	require.NoError(t, err)

	assert.Equal(t, []string{"360p", "720p"}, f.encoder.encodedQualities())

	master, err := f.store.Get(ctx, models.MasterKey("V1"))
	require.NoError(t, err)
	playlist := string(master)
	assert.Equal(t, 2, strings.Count(playlist, "#EXT-X-STREAM-INF"))
	assert.Contains(t, playlist, "RESOLUTION=640x360")
	assert.Contains(t, playlist, "RESOLUTION=1280x720")
	assert.Contains(t, playlist, "360p/index.m3u8")
	assert.NotContains(t, playlist, "1080p")
	assert.Equal(t, "application/vnd.apple.mpegurl", f.backend.ContentType(models.MasterKey("V1")))

	assert.Empty(t, keysUnder(t, f.store, "V1/1080p/"))
	assert.Len(t, keysUnder(t, f.store, "V1/720p/"), 4)

	exists, err := f.store.Exists(ctx, models.OriginalKey("V1", "mp4"))
	require.NoError(t, err)
	assert.True(t, exists, "original must survive rendition purges")

	assert.Equal(t, 1, f.recorder.started)
	assert.Equal(t, models.JobStateDone, f.recorder.last().State)
}

func TestProcessJobStateSequence(t *testing.T) {
	f := newFixture(t, "sequential")

	require.NoError(t, f.service.ProcessJob(context.Background(), testMessage("480p")))

	var states []models.JobState
	for _, s := range f.recorder.states {
		states = append(states, s.State)
	}
	assert.Equal(t, []models.JobState{
		models.JobStateDownloading,
		models.JobStateEncoding,
		models.JobStatePublishing,
		models.JobStateRegeneratingManifest,
		models.JobStateDone,
	}, states)
	assert.Equal(t, "480p", f.recorder.states[1].Quality)
}

func TestProcessJobUploadsIndexLast(t *testing.T) {
	f := newFixture(t, "sequential")
	f.encoder.segments["360p"] = 4

	var (
		mu    sync.Mutex
		order []string
	)
	f.backend.SetPutHook(func(key string) error {
		mu.Lock()
		defer mu.Unlock()
		if strings.HasPrefix(key, "V1/360p/") {
			order = append(order, filepath.Base(key))
		}
		return nil
	})

	require.NoError(t, f.service.ProcessJob(context.Background(), testMessage("360p")))

	require.Len(t, order, 5)
	assert.Equal(t, models.IndexPlaylistName, order[len(order)-1])
	assert.Equal(t, "segment_000.ts", order[0])
}

func TestProcessJobRerunReplacesRendition(t *testing.T) {
	f := newFixture(t, "sequential")
	ctx := context.Background()

	f.encoder.segments["720p"] = 5
	require.NoError(t, f.service.ProcessJob(ctx, testMessage("720p")))
	assert.Len(t, keysUnder(t, f.store, "V1/720p/"), 6)

	f.encoder.segments["720p"] = 3
	require.NoError(t, f.service.ProcessJob(ctx, testMessage("720p")))

	keys := keysUnder(t, f.store, "V1/720p/")
	assert.Len(t, keys, 4)
	assert.NotContains(t, keys, "V1/720p/segment_004.ts")

	master, err := f.store.Get(ctx, models.MasterKey("V1"))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(master), "#EXT-X-STREAM-INF"))
}

func TestProcessJobMasterIncludesEarlierRenditions(t *testing.T) {
	f := newFixture(t, "sequential")
	ctx := context.Background()

	require.NoError(t, f.service.ProcessJob(ctx, testMessage("360p")))
	require.NoError(t, f.service.ProcessJob(ctx, testMessage("1080p")))

	master, err := f.store.Get(ctx, models.MasterKey("V1"))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(master), "#EXT-X-STREAM-INF"))
	assert.Contains(t, string(master), "1080p/index.m3u8")
}

func TestProcessJobOddWidthSource(t *testing.T) {
	f := newFixture(t, "sequential")
	f.encoder.probe = ProbeResult{Width: 1279, Height: 721}

	require.NoError(t, f.service.ProcessJob(context.Background(), testMessage("360p")))

	require.Len(t, f.encoder.encoded, 1)
	opts := f.encoder.encoded[0]
	assert.Zero(t, opts.Width%2)
	assert.Zero(t, opts.Height%2)
	assert.False(t, opts.HasAudio)
}

func TestProcessJobFailureKeepsPublishedRenditions(t *testing.T) {
	f := newFixture(t, "sequential")
	f.encoder.fail["720p"] = fmt.Errorf("%w: exit status 1", ErrEncoderFailed)

	err := f.service.ProcessJob(context.Background(), testMessage("360p", "720p"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEncoderFailed)

	assert.Len(t, keysUnder(t, f.store, "V1/360p/"), 4)
	assert.Empty(t, keysUnder(t, f.store, "V1/720p/"))

	exists, err := f.store.Exists(context.Background(), models.MasterKey("V1"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestProcessJobCleansTempDir(t *testing.T) {
	for _, fail := range []bool{false, true} {
		t.Run(fmt.Sprintf("fail=%v", fail), func(t *testing.T) {
			f := newFixture(t, "sequential")
			if fail {
				f.encoder.fail["360p"] = ErrEncoderFailed
			}

			_ = f.service.ProcessJob(context.Background(), testMessage("360p"))

			entries, err := os.ReadDir(f.tempDir)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestProcessJobMissingSource(t *testing.T) {
	f := newFixture(t, "sequential")
	msg := testMessage("360p")
	msg.SourceKey = models.OriginalKey("V1", "mov")

	err := f.service.ProcessJob(context.Background(), msg)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
	assert.True(t, IsPermanent(err))
}

func TestProcessJobNoVideoStream(t *testing.T) {
	f := newFixture(t, "sequential")
	f.encoder.probeErr = fmt.Errorf("%w: no video stream in source", ErrInvalidDimensions)

	err := f.service.ProcessJob(context.Background(), testMessage("360p"))
	assert.ErrorIs(t, err, ErrInvalidDimensions)
	assert.Empty(t, f.encoder.encoded)
}

func TestProcessJobStartAttemptError(t *testing.T) {
	f := newFixture(t, "sequential")
	f.recorder.startErr = errors.New("db down")

	err := f.service.ProcessJob(context.Background(), testMessage("360p"))
	require.Error(t, err)
	assert.Empty(t, f.encoder.encoded)
}

func TestProcessJobParallel(t *testing.T) {
	f := newFixture(t, "parallel")
	f.encoder.delay = 20 * time.Millisecond

	require.NoError(t, f.service.ProcessJob(context.Background(), testMessage("360p", "480p", "720p", "1080p")))

	assert.ElementsMatch(t, []string{"360p", "480p", "720p", "1080p"}, f.encoder.encodedQualities())
	assert.LessOrEqual(t, atomic.LoadInt32(&f.encoder.maxRunning), int32(2))

	master, err := f.store.Get(context.Background(), models.MasterKey("V1"))
	require.NoError(t, err)
	assert.Equal(t, 4, strings.Count(string(master), "#EXT-X-STREAM-INF"))
	assert.Equal(t, models.JobStateDone, f.recorder.last().State)
}

func TestProcessJobParallelFailureCancelsSiblings(t *testing.T) {
	f := newFixture(t, "parallel")
	f.encoder.fail["360p"] = ErrEncoderFailed
	f.encoder.delay = 10 * time.Millisecond

	err := f.service.ProcessJob(context.Background(), testMessage("360p", "720p"))
	assert.ErrorIs(t, err, ErrEncoderFailed)

	exists, err := f.store.Exists(context.Background(), models.MasterKey("V1"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*models.TranscodeMessage)
		wantErr bool
	}{
		{"valid", func(m *models.TranscodeMessage) {}, false},
		{"missing job id", func(m *models.TranscodeMessage) { m.JobID = "" }, true},
		{"traversal content id", func(m *models.TranscodeMessage) { m.ContentID = "../V1" }, true},
		{"foreign destination", func(m *models.TranscodeMessage) { m.DestinationPrefix = "V2/" }, true},
		{"no qualities", func(m *models.TranscodeMessage) { m.Qualities = nil }, true},
		{"slash in quality", func(m *models.TranscodeMessage) { m.Qualities = []string{"720p/x"} }, true},
		{"duplicate quality", func(m *models.TranscodeMessage) { m.Qualities = []string{"720p", "720p"} }, true},
		{"height below ladder", func(m *models.TranscodeMessage) { m.Qualities = []string{"1p"} }, true},
		{"height above ladder", func(m *models.TranscodeMessage) { m.Qualities = []string{"99999999p"} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := testMessage("720p")
			tt.mutate(msg)

			err := ValidateMessage(msg)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMessage)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewServiceStrategy(t *testing.T) {
	s := NewService(config.TranscoderConfig{Strategy: "parallel"}, nil, nil, nil, nil)
	assert.Equal(t, StrategyParallel, s.Strategy())

	s = NewService(config.TranscoderConfig{}, nil, nil, nil, nil)
	assert.Equal(t, StrategySequential, s.Strategy())
}

func TestRenditionFiles(t *testing.T) {
	dir := t.TempDir()

	_, _, err := renditionFiles(dir)
	assert.ErrorIs(t, err, ErrEncoderFailed)

	for _, name := range []string{"segment_002.ts", "segment_000.ts", "segment_001.ts", models.IndexPlaylistName, "ffmpeg.log"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}

	segments, index, err := renditionFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, models.IndexPlaylistName), index)
	require.Len(t, segments, 3)
	assert.Equal(t, "segment_000.ts", filepath.Base(segments[0]))
	assert.Equal(t, "segment_002.ts", filepath.Base(segments[2]))
}

func TestSourceExtension(t *testing.T) {
	assert.Equal(t, ".mp4", sourceExtension("V1/original.mp4"))
	assert.Equal(t, ".bin", sourceExtension("V1/original"))
}
