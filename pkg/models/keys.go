package models

import (
	"fmt"
	"strings"
)

// Object store key layout shared by the ingestion gateway, the worker and the
// stream origin:
//
//	{content_id}/original.{ext}
//	{content_id}/{quality}/index.m3u8
//	{content_id}/{quality}/segment_%03d.ts
//	{content_id}/master.m3u8
const (
	MasterPlaylistName = "master.m3u8"
	IndexPlaylistName  = "index.m3u8"
	SegmentPattern     = "segment_%03d.ts"
)

// AssetPrefix returns the prefix holding every object of an asset. The
// trailing slash keeps "V1" from matching "V10".
func AssetPrefix(contentID string) string {
	return contentID + "/"
}

// OriginalKey returns the key of the staged source bytes
func OriginalKey(contentID, ext string) string {
	return fmt.Sprintf("%s/original.%s", contentID, ext)
}

// RenditionPrefix returns the directory of one quality
func RenditionPrefix(contentID, quality string) string {
	return fmt.Sprintf("%s/%s/", contentID, quality)
}

// IndexKey returns the key of a quality's index manifest
func IndexKey(contentID, quality string) string {
	return RenditionPrefix(contentID, quality) + IndexPlaylistName
}

// SegmentKey returns the key of a segment file inside a rendition
func SegmentKey(contentID, quality, segment string) string {
	return RenditionPrefix(contentID, quality) + segment
}

// MasterKey returns the key of the aggregate manifest
func MasterKey(contentID string) string {
	return fmt.Sprintf("%s/%s", contentID, MasterPlaylistName)
}

// QualityFromIndexKey extracts the quality from "{content_id}/{quality}/index.m3u8".
// It reports false for any other key.
func QualityFromIndexKey(contentID, key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, AssetPrefix(contentID))
	if !ok {
		return "", false
	}
	quality, name, ok := strings.Cut(rest, "/")
	if !ok || quality == "" || name != IndexPlaylistName {
		return "", false
	}
	return quality, true
}

// ContentIDFromKey returns the first path element of a key
func ContentIDFromKey(key string) (string, bool) {
	id, _, ok := strings.Cut(key, "/")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// IsSafeKeyElement reports whether s can be used as one element of an object key
func IsSafeKeyElement(s string) bool {
	if s == "" || s == "." || s == ".." || len(s) > 128 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}
