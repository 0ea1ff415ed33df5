package transcoder

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/therealutkarshpriyadarshi/vodpipe/pkg/models"
)

// renditionFiles returns the segment files of a locally encoded rendition
// in name order, and its index playlist
func renditionFiles(dir string) ([]string, string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read rendition directory: %w", err)
	}

	var (
		segments []string
		index    string
	)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch name := entry.Name(); {
		case name == models.IndexPlaylistName:
			index = filepath.Join(dir, name)
		case strings.HasSuffix(name, ".ts"):
			segments = append(segments, filepath.Join(dir, name))
		}
	}

	if index == "" {
		return nil, "", fmt.Errorf("%w: no %s in %s", ErrEncoderFailed, models.IndexPlaylistName, dir)
	}
	if len(segments) == 0 {
		return nil, "", fmt.Errorf("%w: no segments in %s", ErrEncoderFailed, dir)
	}

	sort.Strings(segments)
	return segments, index, nil
}

// sourceExtension returns the extension of the staged original, with its dot
func sourceExtension(sourceKey string) string {
	ext := filepath.Ext(sourceKey)
	if ext == "" {
		return ".bin"
	}
	return ext
}
