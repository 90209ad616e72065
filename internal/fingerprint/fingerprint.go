// Package fingerprint computes content-addressed identities for source units
// and chunks. All identities derive from SHA-256 so that re-indexing unchanged
// content always lands on the same IDs.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SumString returns the hex-encoded SHA-256 digest of s.
func SumString(s string) string {
	return Sum([]byte(s))
}

// SumFile streams a file through SHA-256 without loading it into memory.
func SumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// UnitID returns the stable identity of a source unit within a dataset.
// It depends only on the dataset and the unit's logical reference, never on
// content, so a modified file keeps its unit identity.
func UnitID(datasetID, sourceRef string) string {
	return SumString(datasetID + "\x00" + sourceRef)[:16]
}

// ChunkID returns the stable identity of a chunk. It combines the unit's
// logical reference, the chunk's ordinal position, and the chunk content hash,
// so re-indexing unchanged content reproduces identical IDs while any content
// edit produces new ones.
func ChunkID(sourceRef string, ordinal int, contentHash string) string {
	return SumString(fmt.Sprintf("%s\x00%d\x00%s", sourceRef, ordinal, contentHash))[:32]
}
