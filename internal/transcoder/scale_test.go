package transcoder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScaleDimensions(t *testing.T) {
	tests := []struct {
		name       string
		srcW, srcH int
		target     int
		wantW      int
		wantH      int
		wantErr    bool
	}{
		{"16:9 to 720p", 1920, 1080, 720, 1280, 720, false},
		{"16:9 to 360p", 1920, 1080, 360, 640, 360, false},
		{"odd width floors to even", 1279, 721, 360, 638, 360, false},
		{"4:3 to 480p", 640, 480, 480, 640, 480, false},
		{"portrait", 1080, 1920, 360, 202, 360, false},
		{"odd target height", 1920, 1080, 361, 640, 360, false},
		{"upscale", 640, 360, 1080, 1920, 1080, false},
		{"zero source", 0, 1080, 720, 0, 0, true},
		{"degenerate width", 1, 1080, 360, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h, err := ScaleDimensions(tt.srcW, tt.srcH, tt.target)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDimensions)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}

func TestVariantFor(t *testing.T) {
	probe := &ProbeResult{Width: 1920, Height: 1080}

	variant, profile, err := VariantFor("720p", probe)
	require.NoError(t, err)
	assert.Equal(t, Variant{Quality: "720p", Width: 1280, Height: 720, Bandwidth: 2800000}, variant)
	assert.Equal(t, "720p", profile.Name)

	variant, _, err = VariantFor("240p", probe)
	require.NoError(t, err)
	assert.Equal(t, 240, variant.Height)
	assert.Equal(t, 426, variant.Width)
}

func TestBuildMasterPlaylist(t *testing.T) {
	playlist := string(BuildMasterPlaylist([]Variant{
		{Quality: "720p", Width: 1280, Height: 720, Bandwidth: 2800000},
		{Quality: "360p", Width: 640, Height: 360, Bandwidth: 800000},
	}))

	lines := strings.Split(strings.TrimSpace(playlist), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "#EXTM3U", lines[0])
	assert.Equal(t, "#EXT-X-VERSION:3", lines[1])
	assert.Equal(t, `#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360,NAME="360p"`, lines[2])
	assert.Equal(t, "360p/index.m3u8", lines[3])
	assert.Equal(t, "720p/index.m3u8", lines[5])
}
