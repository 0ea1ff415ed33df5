package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileFor(t *testing.T) {
	tests := []struct {
		quality    string
		wantHeight int
		wantRate   int64
	}{
		{"360p", 360, 800000},
		{"480p", 480, 1400000},
		{"720p", 720, 2800000},
		{"1080p", 1080, 5000000},
		{"1440p", 1440, DefaultQuality.Bitrate},
		{"mobile", DefaultQuality.Height, DefaultQuality.Bitrate},
		{"0p", DefaultQuality.Height, DefaultQuality.Bitrate},
		{"1p", DefaultQuality.Height, DefaultQuality.Bitrate},
		{"99999999p", DefaultQuality.Height, DefaultQuality.Bitrate},
		{"9000000000000000000000p", DefaultQuality.Height, DefaultQuality.Bitrate},
		{"4320p", 4320, DefaultQuality.Bitrate},
	}

	for _, tt := range tests {
		t.Run(tt.quality, func(t *testing.T) {
			p := ProfileFor(tt.quality)
			assert.Equal(t, tt.quality, p.Name)
			assert.Equal(t, tt.wantHeight, p.Height)
			assert.Equal(t, tt.wantRate, p.Bitrate)
			assert.GreaterOrEqual(t, p.MaxBitrate, p.Bitrate)
			assert.Greater(t, p.BufferSize, int64(0))
		})
	}
}

func TestQualityLadderSorted(t *testing.T) {
	ladder := QualityLadder()
	require.Len(t, ladder, 4)
	for i := 1; i < len(ladder); i++ {
		assert.Greater(t, ladder[i].Height, ladder[i-1].Height)
		assert.Greater(t, ladder[i].Bitrate, ladder[i-1].Bitrate)
	}
}

func TestIsSupportedQuality(t *testing.T) {
	tests := []struct {
		quality string
		want    bool
	}{
		{"360p", true},
		{"1080p", true},
		{"144p", true},
		{"4320p", true},
		{"mobile", true},
		{"4k", true},
		{"143p", false},
		{"1p", false},
		{"0p", false},
		{"4321p", false},
		{"99999999p", false},
		{"9000000000000000000000p", false},
	}

	for _, tt := range tests {
		t.Run(tt.quality, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSupportedQuality(tt.quality))
		})
	}
}

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "V1/", AssetPrefix("V1"))
	assert.Equal(t, "V1/original.mp4", OriginalKey("V1", "mp4"))
	assert.Equal(t, "V1/720p/", RenditionPrefix("V1", "720p"))
	assert.Equal(t, "V1/720p/index.m3u8", IndexKey("V1", "720p"))
	assert.Equal(t, "V1/720p/segment_003.ts", SegmentKey("V1", "720p", "segment_003.ts"))
	assert.Equal(t, "V1/master.m3u8", MasterKey("V1"))
}

func TestQualityFromIndexKey(t *testing.T) {
	q, ok := QualityFromIndexKey("V1", "V1/720p/index.m3u8")
	assert.True(t, ok)
	assert.Equal(t, "720p", q)

	for _, key := range []string{
		"V1/720p/segment_000.ts",
		"V1/master.m3u8",
		"V10/720p/index.m3u8",
		"V1/720p/nested/index.m3u8",
		"V1//index.m3u8",
	} {
		_, ok := QualityFromIndexKey("V1", key)
		assert.False(t, ok, key)
	}
}

func TestContentIDFromKey(t *testing.T) {
	id, ok := ContentIDFromKey("V1/master.m3u8")
	assert.True(t, ok)
	assert.Equal(t, "V1", id)

	_, ok = ContentIDFromKey("loose-object")
	assert.False(t, ok)
}

func TestIsSafeKeyElement(t *testing.T) {
	for _, s := range []string{"V1", "movie_2024-01", "segment_000.ts", "720p"} {
		assert.True(t, IsSafeKeyElement(s), s)
	}
	for _, s := range []string{"", ".", "..", "a/b", "a b", "ü"} {
		assert.False(t, IsSafeKeyElement(s), s)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to JobState
		want     bool
	}{
		{JobStateQueued, JobStateReceived, true},
		{JobStateReceived, JobStateDownloading, true},
		{JobStateDownloading, JobStateEncoding, true},
		{JobStateEncoding, JobStatePublishing, true},
		{JobStatePublishing, JobStateEncoding, true},
		{JobStatePublishing, JobStateRegeneratingManifest, true},
		{JobStateRegeneratingManifest, JobStateDone, true},
		{JobStateEncoding, JobStateFailed, true},
		{JobStateDownloading, JobStateRetrying, true},
		{JobStateRetrying, JobStateReceived, true},
		{JobStateDone, JobStateReceived, true},
		{JobStateQueued, JobStateDone, false},
		{JobStateDownloading, JobStatePublishing, false},
		{JobStateDone, JobStateFailed, false},
		{JobStateFailed, JobStateRetrying, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTranscodeMessageJSON(t *testing.T) {
	msg := TranscodeMessage{
		JobID:             "job-1",
		ContentID:         "V1",
		SourceKey:         "V1/original.mp4",
		DestinationPrefix: "V1",
		Qualities:         []string{"360p", "720p"},
	}

	body, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"job_id":"job-1","content_id":"V1","source_key":"V1/original.mp4","destination_prefix":"V1","qualities":["360p","720p"]}`, string(body))
}
