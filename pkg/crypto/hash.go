// Package crypto provides content hashing and authenticated encryption
// for memory items and stored credentials.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashContent returns the SHA-256 hex digest of the UTF-8 content.
// Stable across runs; used for deduplication and cache keys.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
