package ingest

import (
	"fmt"
	"strings"
)

// SanitizeFilename canonicalizes an uploaded filename. The name is split at
// its last dot; the extension must be non-empty and at most maxExt bytes.
// Every base name character outside [A-Za-z0-9_-] becomes '_' and the base
// is truncated to maxBase characters. It returns the sanitized name and the
// extension.
func SanitizeFilename(name string, maxExt, maxBase int) (string, string, error) {
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 || dot == len(name)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrNoExtension, name)
	}

	base, ext := name[:dot], name[dot+1:]
	if len(ext) > maxExt {
		return "", "", fmt.Errorf("%w: %q exceeds %d characters", ErrExtensionTooLong, ext, maxExt)
	}
	if !isKeySafe(ext) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidExtension, ext)
	}

	var b strings.Builder
	b.Grow(len(base))
	n := 0
	for _, r := range base {
		if n == maxBase {
			break
		}
		if isKeySafeRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
		n++
	}

	sanitized := b.String()
	if sanitized == "" {
		sanitized = "video"
	}

	return sanitized + "." + ext, ext, nil
}

func isKeySafeRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-'
}

func isKeySafe(s string) bool {
	for _, r := range s {
		if !isKeySafeRune(r) {
			return false
		}
	}
	return true
}
