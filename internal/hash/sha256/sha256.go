// Package sha256 provides content hashing for cache change detection.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// digestLen is the number of hex characters kept from the full digest. 64
// bits of hash is plenty for change detection, and short hashes keep cache
// metadata readable.
const digestLen = 16

// Hasher implements pipeline.Hasher using truncated SHA-256.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns the first 16 hex characters of the
// digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:digestLen], nil
}
