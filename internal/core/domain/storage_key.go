package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
	"time"
)

// AttachmentStorageKey derives a collision-free key from the attachment
// name and its receipt time.
func AttachmentStorageKey(filename string, receivedAt time.Time) string {
	sum := sha256.Sum256([]byte(filename + "|" + receivedAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])[:16] + "_" + SanitizeFilename(filename)
}

// SanitizeFilename reduces a client supplied name to a safe storage key
// segment.
func SanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == ".." {
		return "document.bin"
	}
	return base
}
