package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// SparseBackend represents the sparse retrieval backend type.
type SparseBackend string

const (
	// SparseBackendVector indexes service-provided sparse vectors (default).
	SparseBackendVector SparseBackend = "vector"

	// SparseBackendFTS uses SQLite FTS5 BM25 scoring.
	// WAL mode allows concurrent multi-process access.
	SparseBackendFTS SparseBackend = "fts5"

	// SparseBackendBleve uses Bleve v2 BM25 scoring.
	// BoltDB's exclusive lock makes it single-process only.
	SparseBackendBleve SparseBackend = "bleve"
)

// NewSparseIndex creates a SparseIndex using the specified backend.
// basePath is the path without extension; the extension is added per backend
// (.sparse for vector, .db for FTS5, .bleve for Bleve). If basePath is empty,
// an in-memory index is created where the backend supports it.
func NewSparseIndex(basePath string, config SparseConfig, backend string) (SparseIndex, error) {
	switch backend {
	case string(SparseBackendVector), "":
		var path string
		if basePath != "" {
			path = basePath + ".sparse"
		}
		return NewSparseVectorIndex(path)

	case string(SparseBackendFTS):
		var path string
		if basePath != "" {
			path = basePath + ".db"
		}
		return NewFTSKeywordIndex(path, config)

	case string(SparseBackendBleve):
		var path string
		if basePath != "" {
			path = basePath + ".bleve"
		}
		return NewBleveKeywordIndex(path, config)

	default:
		return nil, fmt.Errorf("unknown sparse backend: %s (valid options: vector, fts5, bleve)", backend)
	}
}

// DetectSparseBackend detects which backend an existing index uses based on
// file existence. Returns empty string if no index exists.
func DetectSparseBackend(basePath string) SparseBackend {
	if fileExists(basePath + ".sparse") {
		return SparseBackendVector
	}
	if fileExists(basePath + ".db") {
		return SparseBackendFTS
	}
	if dirExists(basePath + ".bleve") {
		return SparseBackendBleve
	}
	return ""
}

// fileExists checks if a file exists at the given path.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// dirExists checks if a directory exists at the given path.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// SparseIndexPath returns the full path of the sparse index for a backend.
func SparseIndexPath(dataDir string, backend string) string {
	basePath := filepath.Join(dataDir, "sparse")
	switch backend {
	case string(SparseBackendFTS):
		return basePath + ".db"
	case string(SparseBackendBleve):
		return basePath + ".bleve"
	default:
		return basePath + ".sparse"
	}
}
