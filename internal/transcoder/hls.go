package transcoder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/therealutkarshpriyadarshi/vodpipe/pkg/models"
)

// BuildMasterPlaylist renders an HLS master playlist with one stream entry
// per variant, lowest bandwidth first. Variant URIs are relative to the
// master: {quality}/index.m3u8.
func BuildMasterPlaylist(variants []Variant) []byte {
	sorted := make([]Variant, len(variants))
	copy(sorted, variants)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Bandwidth != sorted[j].Bandwidth {
			return sorted[i].Bandwidth < sorted[j].Bandwidth
		}
		return sorted[i].Quality < sorted[j].Quality
	})

	var content strings.Builder

	content.WriteString("#EXTM3U\n")
	content.WriteString("#EXT-X-VERSION:3\n")

	for _, variant := range sorted {
		// Stream info
		content.WriteString(fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d,NAME=\"%s\"\n",
			variant.Bandwidth,
			variant.Width,
			variant.Height,
			variant.Quality,
		))
		content.WriteString(variant.Quality + "/" + models.IndexPlaylistName + "\n")
	}

	return []byte(content.String())
}
