package models

import (
	"strconv"
	"strings"
)

// QualityProfile defines the target height and rate control for one rendition
type QualityProfile struct {
	Name       string `json:"name"`
	Height     int    `json:"height"`
	Bitrate    int64  `json:"bitrate"`     // bits per second
	MaxBitrate int64  `json:"max_bitrate"` // bits per second
	BufferSize int64  `json:"buffer_size"` // bits
}

// Standard quality profiles
var (
	Quality360p = QualityProfile{
		Name:       "360p",
		Height:     360,
		Bitrate:    800000, // 800 kbps
		MaxBitrate: 856000,
		BufferSize: 1200000,
	}

	Quality480p = QualityProfile{
		Name:       "480p",
		Height:     480,
		Bitrate:    1400000, // 1.4 Mbps
		MaxBitrate: 1498000,
		BufferSize: 2100000,
	}

	Quality720p = QualityProfile{
		Name:       "720p",
		Height:     720,
		Bitrate:    2800000, // 2.8 Mbps
		MaxBitrate: 2996000,
		BufferSize: 4200000,
	}

	Quality1080p = QualityProfile{
		Name:       "1080p",
		Height:     1080,
		Bitrate:    5000000, // 5 Mbps
		MaxBitrate: 5350000,
		BufferSize: 7500000,
	}

	// DefaultQuality is used for any label missing from the table
	DefaultQuality = QualityProfile{
		Name:       "default",
		Height:     480,
		Bitrate:    1400000,
		MaxBitrate: 1498000,
		BufferSize: 2100000,
	}
)

// QualityLadder returns the standard profiles from lowest to highest
func QualityLadder() []QualityProfile {
	return []QualityProfile{
		Quality360p,
		Quality480p,
		Quality720p,
		Quality1080p,
	}
}

// Bounds of a height parsed from an "NNNp" label
const (
	MinQualityHeight = 144
	MaxQualityHeight = 4320
)

// ProfileFor returns the profile for a quality label. Unknown labels get the
// default rate control; their height comes from an "NNNp" label when one can
// be parsed within MinQualityHeight..MaxQualityHeight, otherwise from the
// default profile.
func ProfileFor(quality string) QualityProfile {
	for _, p := range QualityLadder() {
		if p.Name == quality {
			return p
		}
	}

	profile := DefaultQuality
	profile.Name = quality
	if h, ok := labelHeight(quality); ok && heightInRange(h) {
		profile.Height = h
	}
	return profile
}

// IsSupportedQuality reports whether a label can be encoded. Labels shaped
// like "NNNp" must name a height within MinQualityHeight..MaxQualityHeight;
// any other label uses the default profile.
func IsSupportedQuality(quality string) bool {
	h, ok := labelHeight(quality)
	return !ok || heightInRange(h)
}

func heightInRange(h int) bool {
	return h >= MinQualityHeight && h <= MaxQualityHeight
}

// labelHeight parses "NNNp". ok is true for every label of that shape; a
// number too large for int reports -1.
func labelHeight(label string) (int, bool) {
	digits, ok := strings.CutSuffix(strings.ToLower(label), "p")
	if !ok || digits == "" {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	h, err := strconv.Atoi(digits)
	if err != nil {
		return -1, true
	}
	return h, true
}
