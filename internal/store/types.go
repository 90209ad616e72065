// Package store provides the persistence layer for Quarry: vector storage
// (HNSW), sparse retrieval indexes (service vectors, SQLite FTS5, Bleve), and
// metadata persistence (SQLite).
package store

import (
	"context"
	"fmt"
	"time"
)

// ContentType represents the type of content in a chunk.
type ContentType string

const (
	ContentTypeCode     ContentType = "code"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeText     ContentType = "text"
)

// Visibility controls which subjects can retrieve from a dataset.
type Visibility string

const (
	// VisibilityOwned restricts the dataset to its owner (plus explicit shares).
	VisibilityOwned Visibility = "owned"
	// VisibilityGlobal makes the dataset readable by every subject.
	VisibilityGlobal Visibility = "global"
)

// State keys for the metadata store.
const (
	// StateKeyIndexDimension stores the embedding dimension used for the index.
	StateKeyIndexDimension = "index_embedding_dimension"
	// StateKeyIndexModel stores the embedding model name used for the index.
	StateKeyIndexModel = "index_embedding_model"
	// StateKeyLastSync stores the RFC3339 timestamp of the last completed sync.
	StateKeyLastSync = "last_sync"
)

// SymbolType represents the type of code symbol.
type SymbolType string

const (
	SymbolTypeFunction  SymbolType = "function"
	SymbolTypeClass     SymbolType = "class"
	SymbolTypeInterface SymbolType = "interface"
	SymbolTypeType      SymbolType = "type"
	SymbolTypeVariable  SymbolType = "variable"
	SymbolTypeConstant  SymbolType = "constant"
	SymbolTypeMethod    SymbolType = "method"
)

// SymbolConfidence records how a symbol was extracted.
type SymbolConfidence string

const (
	// ConfidenceAST means the symbol came from a real parse tree.
	ConfidenceAST SymbolConfidence = "ast"
	// ConfidenceHeuristic means the symbol came from pattern matching after a
	// parser failure.
	ConfidenceHeuristic SymbolConfidence = "heuristic"
)

// Symbol represents a code symbol extracted during chunking.
type Symbol struct {
	Name       string
	Type       SymbolType
	StartLine  int
	EndLine    int
	Signature  string
	DocComment string
	Confidence SymbolConfidence
}

// Chunk is the retrievable unit of content. Its ID is content-addressed:
// identical source at the same ordinal always reproduces the same ID.
type Chunk struct {
	ID          string // fingerprint.ChunkID(sourceRef, ordinal, contentHash)
	UnitID      string // Parent source unit ID
	DatasetID   string // Owning dataset
	SourceRef   string // Unit reference, relative to project root
	Ordinal     int    // Position of the chunk within its unit, 0-based
	Content     string // Full content with context
	Context     string // Imports, package decl (code only)
	ContentType ContentType
	Language    string // go, typescript, python, etc.
	StartLine   int    // 1-indexed
	EndLine     int    // Inclusive
	ContentHash string // SHA-256 of Content
	Symbols     []*Symbol
	Metadata    map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SourceUnit represents a tracked source unit (a file, for the filesystem
// source) in the index.
type SourceUnit struct {
	ID          string    // fingerprint.UnitID(datasetID, sourceRef)
	DatasetID   string    // Owning dataset
	SourceRef   string    // Relative to project root
	Size        int64     // Content size in bytes
	ModTime     time.Time // Last modification time
	ContentHash string    // SHA-256 of content
	Language    string    // Detected language
	ContentType string    // code, markdown, text
	IndexedAt   time.Time // When indexed
}

// Dataset is the unit of visibility scoping. Every chunk belongs to exactly
// one dataset.
type Dataset struct {
	ID         string
	ProjectID  string
	Name       string
	OwnerID    string
	Visibility Visibility
	CreatedAt  time.Time
}

// Project represents an indexed project root.
type Project struct {
	ID         string // SHA256(absolute_path) prefix
	Name       string // Directory name
	RootPath   string // Absolute path
	ChunkCount int
	UnitCount  int
	IndexedAt  time.Time
	Version    string // Index schema version
}

// MetadataStore persists projects, datasets, source units, and chunk metadata.
type MetadataStore interface {
	// Project operations
	SaveProject(ctx context.Context, project *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	RefreshProjectStats(ctx context.Context, id string) error

	// Dataset operations
	CreateDataset(ctx context.Context, ds *Dataset) error
	GetDataset(ctx context.Context, id string) (*Dataset, error)
	GetDatasetByName(ctx context.Context, projectID, name string) (*Dataset, error)
	ListDatasets(ctx context.Context, projectID string) ([]*Dataset, error)
	ShareDataset(ctx context.Context, datasetID, subjectID string) error
	UnshareDataset(ctx context.Context, datasetID, subjectID string) error
	// VisibleDatasets resolves the datasets a subject may read:
	// owned by the subject, global, or explicitly shared with it.
	VisibleDatasets(ctx context.Context, subjectID string) ([]*Dataset, error)

	// Source unit operations
	SaveUnits(ctx context.Context, units []*SourceUnit) error
	GetUnitByRef(ctx context.Context, datasetID, sourceRef string) (*SourceUnit, error)
	// UnitsByDataset returns all units of a dataset keyed by SourceRef, for
	// change detection.
	UnitsByDataset(ctx context.Context, datasetID string) (map[string]*SourceUnit, error)
	DeleteUnit(ctx context.Context, unitID string) error

	// Chunk operations
	SaveChunks(ctx context.Context, chunks []*Chunk) error
	GetChunk(ctx context.Context, id string) (*Chunk, error)
	GetChunks(ctx context.Context, ids []string) ([]*Chunk, error)
	GetChunksByUnit(ctx context.Context, unitID string) ([]*Chunk, error)
	ChunkIDsByUnit(ctx context.Context, unitID string) ([]string, error)
	// AllChunkIDs returns every chunk ID, for cross-store consistency checks.
	AllChunkIDs(ctx context.Context) ([]string, error)
	DeleteChunks(ctx context.Context, ids []string) error
	DeleteChunksByUnit(ctx context.Context, unitID string) error

	// State operations (key-value store for runtime state)
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	// Lifecycle
	Close() error
}

// CurrentSchemaVersion is the current database schema version.
const CurrentSchemaVersion = 1

// SparseDocument is a document to be indexed for sparse retrieval.
// Content feeds the keyword backends; Vector carries service-provided sparse
// weights for the vector backend.
type SparseDocument struct {
	ID        string
	DatasetID string
	Content   string
	Vector    map[string]float32
}

// SparseQuery carries both representations of a query so any backend can
// serve it. Datasets scopes results; empty means no scoping.
type SparseQuery struct {
	Text     string
	Vector   map[string]float32
	Datasets []string
}

// SparseResult represents a single sparse search result.
type SparseResult struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// SparseStats provides statistics about a sparse index.
type SparseStats struct {
	DocumentCount int
	TermCount     int
}

// SparseIndex provides the sparse leg of hybrid retrieval.
type SparseIndex interface {
	// Index adds documents. Existing IDs are replaced.
	Index(ctx context.Context, docs []*SparseDocument) error

	// Search returns documents matching the query, best first.
	Search(ctx context.Context, q SparseQuery, limit int) ([]*SparseResult, error)

	// Delete removes documents from the index.
	Delete(ctx context.Context, docIDs []string) error

	// AllIDs returns all document IDs in the index (for consistency checks).
	AllIDs() ([]string, error)

	// Stats returns index statistics.
	Stats() *SparseStats

	// Persistence
	Save(path string) error
	Close() error
}

// SparseConfig configures keyword sparse backends.
type SparseConfig struct {
	// K1 is the term frequency saturation parameter (default: 1.2).
	K1 float64

	// B is the length normalization parameter (default: 0.75).
	B float64

	// StopWords is a list of words to filter out during tokenization.
	StopWords []string

	// MinTokenLength is minimum token length to index (default: 2).
	MinTokenLength int
}

// DefaultSparseConfig returns default sparse backend configuration.
func DefaultSparseConfig() SparseConfig {
	return SparseConfig{
		K1:             1.2,
		B:              0.75,
		StopWords:      DefaultCodeStopWords,
		MinTokenLength: 2,
	}
}

// DefaultCodeStopWords contains programming keywords to filter out.
var DefaultCodeStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while",
	"data", "result", "value", "item", "key", "err", "ctx", "tmp",
}

// VectorRecord pairs a chunk ID with its dense vector and dataset scope.
type VectorRecord struct {
	ID        string
	DatasetID string
	Vector    []float32
}

// VectorResult represents a single vector search result.
type VectorResult struct {
	ID       string  // Chunk ID
	Distance float32 // Lower is more similar (0-2 for cosine)
	Score    float32 // Normalized similarity (0-1)
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	// Dimensions is the vector dimension.
	Dimensions int

	// Metric is the distance metric: "cos" (cosine), "l2" (euclidean).
	Metric string

	// M is HNSW max connections per layer (default: 16).
	M int

	// EfSearch is HNSW query-time search width (default: 20).
	EfSearch int
}

// DefaultVectorStoreConfig returns sensible defaults for the vector store.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   64,
	}
}

// VectorStore provides dense retrieval with dataset scoping.
type VectorStore interface {
	// Add inserts vector records. If an ID exists, it is replaced.
	Add(ctx context.Context, recs []*VectorRecord) error

	// Search finds the k nearest neighbors to the query vector, restricted to
	// the given datasets (empty = no scoping).
	Search(ctx context.Context, query []float32, k int, datasets []string) ([]*VectorResult, error)

	// Delete removes vectors by ID.
	Delete(ctx context.Context, ids []string) error

	// AllIDs returns all vector IDs in the store (for consistency checks).
	AllIDs() []string

	// Contains checks if ID exists.
	Contains(id string) bool

	// Count returns number of vectors.
	Count() int

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'quarry sync --rebuild')", e.Expected, e.Got)
}
