package transcoder

import (
	"errors"
	"fmt"

	"github.com/therealutkarshpriyadarshi/vodpipe/pkg/models"
)

// ErrInvalidDimensions is returned for sources or targets the ladder cannot scale
var ErrInvalidDimensions = errors.New("invalid dimensions")

// Variant is one rendition as advertised in the master playlist
type Variant struct {
	Quality   string
	Width     int
	Height    int
	Bandwidth int64
}

// ScaleDimensions scales a source frame to targetHeight preserving the
// aspect ratio. Both results are floored to even values since H.264 with
// 4:2:0 chroma rejects odd frame sizes.
func ScaleDimensions(srcWidth, srcHeight, targetHeight int) (int, int, error) {
	if srcWidth <= 0 || srcHeight <= 0 || targetHeight <= 0 {
		return 0, 0, fmt.Errorf("%w: source %dx%d, target height %d", ErrInvalidDimensions, srcWidth, srcHeight, targetHeight)
	}

	height := targetHeight &^ 1
	width := int(int64(srcWidth) * int64(targetHeight) / int64(srcHeight))
	width &^= 1

	if width < 2 || height < 2 {
		return 0, 0, fmt.Errorf("%w: %dx%d scales to %dx%d", ErrInvalidDimensions, srcWidth, srcHeight, width, height)
	}

	return width, height, nil
}

// VariantFor resolves the advertised variant of quality for a probed source
func VariantFor(quality string, probe *ProbeResult) (Variant, models.QualityProfile, error) {
	profile := models.ProfileFor(quality)

	width, height, err := ScaleDimensions(probe.Width, probe.Height, profile.Height)
	if err != nil {
		return Variant{}, profile, err
	}

	return Variant{
		Quality:   quality,
		Width:     width,
		Height:    height,
		Bandwidth: profile.Bitrate,
	}, profile, nil
}
