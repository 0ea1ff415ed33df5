package transcoder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/therealutkarshpriyadarshi/vodpipe/internal/config"
	"github.com/therealutkarshpriyadarshi/vodpipe/pkg/models"
)

var (
	// ErrEncoderFailed is returned when ffmpeg or ffprobe exits non-zero or
	// produces unusable output
	ErrEncoderFailed = errors.New("encoder failed")
)

// maxStderr bounds how much encoder output is carried in an error
const maxStderr = 4096

// FFmpeg wraps FFmpeg operations
type FFmpeg struct {
	ffmpegPath     string
	ffprobePath    string
	preset         string
	audioBitrate   string
	segmentSeconds int
}

// NewFFmpeg creates a new FFmpeg instance from transcoder settings
func NewFFmpeg(cfg config.TranscoderConfig) *FFmpeg {
	f := &FFmpeg{
		ffmpegPath:     cfg.FFmpegPath,
		ffprobePath:    cfg.FFprobePath,
		preset:         cfg.Preset,
		audioBitrate:   cfg.AudioBitrate,
		segmentSeconds: cfg.SegmentSeconds,
	}
	if f.ffmpegPath == "" {
		f.ffmpegPath = "ffmpeg"
	}
	if f.ffprobePath == "" {
		f.ffprobePath = "ffprobe"
	}
	if f.preset == "" {
		f.preset = "veryfast"
	}
	if f.audioBitrate == "" {
		f.audioBitrate = "128k"
	}
	if f.segmentSeconds <= 0 {
		f.segmentSeconds = 6
	}
	return f
}

// VideoMetadata holds video metadata extracted from ffprobe
type VideoMetadata struct {
	Format  FormatInfo   `json:"format"`
	Streams []StreamInfo `json:"streams"`
}

// FormatInfo holds format information
type FormatInfo struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// StreamInfo holds stream information
type StreamInfo struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// ProbeResult is the subset of source properties the ladder needs
type ProbeResult struct {
	Width    int
	Height   int
	Duration float64
	HasAudio bool
}

// EncodeOptions describes one HLS rendition
type EncodeOptions struct {
	InputPath string
	OutputDir string
	Width     int
	Height    int
	Profile   models.QualityProfile
	HasAudio  bool
}

// Probe reads the pixel dimensions of the first video stream
func (f *FFmpeg) Probe(ctx context.Context, inputPath string) (*ProbeResult, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	}

	cmd := exec.CommandContext(ctx, f.ffprobePath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: ffprobe: %v, stderr: %s", ErrEncoderFailed, err, tail(stderr.Bytes()))
	}

	return parseProbeOutput(stdout.Bytes())
}

func parseProbeOutput(data []byte) (*ProbeResult, error) {
	var metadata VideoMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("%w: failed to parse ffprobe output: %v", ErrEncoderFailed, err)
	}

	result := &ProbeResult{}
	if duration, err := strconv.ParseFloat(metadata.Format.Duration, 64); err == nil {
		result.Duration = duration
	}

	foundVideo := false
	for _, stream := range metadata.Streams {
		switch stream.CodecType {
		case "video":
			if !foundVideo {
				result.Width = stream.Width
				result.Height = stream.Height
				foundVideo = true
			}
		case "audio":
			result.HasAudio = true
		}
	}

	if !foundVideo {
		return nil, fmt.Errorf("%w: no video stream in source", ErrInvalidDimensions)
	}

	return result, nil
}

// EncodeHLS produces a VOD rendition in opts.OutputDir: index.m3u8 plus
// segment_NNN.ts files of a fixed target duration
func (f *FFmpeg) EncodeHLS(ctx context.Context, opts EncodeOptions) error {
	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, f.ffmpegPath, f.hlsArgs(opts)...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: ffmpeg %s: %v, stderr: %s", ErrEncoderFailed, opts.Profile.Name, err, tail(stderr.Bytes()))
	}

	return nil
}

func (f *FFmpeg) hlsArgs(opts EncodeOptions) []string {
	args := []string{
		"-hide_banner",
		"-y",
		"-i", opts.InputPath,
		"-map", "0:v:0",
	}
	if opts.HasAudio {
		args = append(args, "-map", "0:a:0")
	}

	args = append(args,
		"-c:v", "libx264",
		"-preset", f.preset,
		"-vf", fmt.Sprintf("scale=%d:%d", opts.Width, opts.Height),
		"-b:v", strconv.FormatInt(opts.Profile.Bitrate, 10),
		"-maxrate", strconv.FormatInt(opts.Profile.MaxBitrate, 10),
		"-bufsize", strconv.FormatInt(opts.Profile.BufferSize, 10),
		// Keyframes on segment boundaries keep segment durations fixed
		"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", f.segmentSeconds),
		"-sc_threshold", "0",
	)

	if opts.HasAudio {
		args = append(args,
			"-c:a", "aac",
			"-b:a", f.audioBitrate,
			"-ac", "2",
		)
	}

	args = append(args,
		"-f", "hls",
		"-hls_time", strconv.Itoa(f.segmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_segment_type", "mpegts",
		"-hls_segment_filename", filepath.Join(opts.OutputDir, models.SegmentPattern),
		filepath.Join(opts.OutputDir, models.IndexPlaylistName),
	)

	return args
}

func tail(b []byte) string {
	if len(b) > maxStderr {
		b = b[len(b)-maxStderr:]
	}
	return string(bytes.TrimSpace(b))
}
