package embed

import (
	"context"
	"log/slog"
)

// Router pairs the dense and sparse providers for the indexing pipeline.
// The two legs fail independently: a dense failure fails the batch, since
// dense vectors are the primary retrieval signal, while a sparse failure
// only degrades the batch to dense-only and is logged.
type Router struct {
	dense  DenseEmbedder
	sparse SparseEmbedder // nil when no sparse service is configured
	logger *slog.Logger
}

// NewRouter creates a router. sparse may be nil.
func NewRouter(dense DenseEmbedder, sparse SparseEmbedder, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{dense: dense, sparse: sparse, logger: logger}
}

// Embed produces both representations for a batch of texts. The sparse
// slice is nil when the sparse leg is unconfigured or failed.
func (r *Router) Embed(ctx context.Context, texts []string) (dense [][]float32, sparse []map[string]float32, err error) {
	dense, err = r.dense.EmbedDense(ctx, texts)
	if err != nil {
		return nil, nil, err
	}

	if r.sparse == nil {
		return dense, nil, nil
	}

	sparse, sparseErr := r.sparse.EmbedSparse(ctx, texts)
	if sparseErr != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		r.logger.Warn("sparse embedding failed, continuing dense-only",
			slog.Int("texts", len(texts)),
			slog.String("error", sparseErr.Error()))
		return dense, nil, nil
	}

	return dense, sparse, nil
}

// Dense returns the dense leg.
func (r *Router) Dense() DenseEmbedder {
	return r.dense
}

// Sparse returns the sparse leg, or nil.
func (r *Router) Sparse() SparseEmbedder {
	return r.sparse
}

// Dimensions returns the dense embedding dimensionality.
func (r *Router) Dimensions() int {
	return r.dense.Dimensions()
}

// Close closes both legs, returning the first error.
func (r *Router) Close() error {
	err := r.dense.Close()
	if r.sparse != nil {
		if serr := r.sparse.Close(); err == nil {
			err = serr
		}
	}
	return err
}
