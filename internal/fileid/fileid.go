// Package fileid derives deterministic image IDs from file paths.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

const prefix = "img:"

// ImageID returns a stable image ID for the given absolute path.
// Same path always yields the same ID, so registering a file twice is detectable.
func ImageID(absolutePath string) string {
	normalized := filepath.Clean(absolutePath)
	hash := sha256.Sum256([]byte(normalized))
	return prefix + hex.EncodeToString(hash[:16])
}
