// Package embed provides the embedding providers behind indexing and
// retrieval: dense vectors, sparse term-weight vectors, and reranking.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultBatchSize is the default number of texts per provider request.
	DefaultBatchSize = 32

	// MaxBatchSize caps batch size to bound request payloads.
	MaxBatchSize = 256

	// DefaultRequestTimeout bounds one provider request. Cold model loads
	// can take tens of seconds, so this is deliberately generous.
	DefaultRequestTimeout = 60 * time.Second

	// DefaultDimensions is used when a provider cannot report its own.
	DefaultDimensions = 768

	// StaticDimensions is the hash embedder's fixed dimensionality.
	StaticDimensions = 256
)

// DenseEmbedder produces dense vectors for text.
type DenseEmbedder interface {
	// EmbedDense embeds a batch of texts, one vector per input in order.
	// Empty inputs yield zero vectors rather than errors.
	EmbedDense(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimensionality.
	Dimensions() int

	// ModelName identifies the backing model.
	ModelName() string

	// Available reports whether the provider is reachable and ready.
	Available(ctx context.Context) bool

	// Close releases provider resources.
	Close() error
}

// SparseEmbedder produces sparse term-weight vectors for text.
type SparseEmbedder interface {
	// EmbedSparse embeds a batch of texts, one term-weight map per input.
	EmbedSparse(ctx context.Context, texts []string) ([]map[string]float32, error)

	// ModelName identifies the backing model.
	ModelName() string

	// Available reports whether the provider is reachable and ready.
	Available(ctx context.Context) bool

	// Close releases provider resources.
	Close() error
}

// Reranker scores candidate documents against a query. Scores come back
// in candidate order; higher means more relevant.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []string) ([]float64, error)
	ModelName() string
	Available(ctx context.Context) bool
	Close() error
}

// normalizeVector normalizes a vector to unit length. Zero vectors come
// back unchanged.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}

// clampBatchSize keeps a configured batch size inside provider limits.
func clampBatchSize(n int) int {
	if n <= 0 {
		return DefaultBatchSize
	}
	if n > MaxBatchSize {
		return MaxBatchSize
	}
	return n
}
