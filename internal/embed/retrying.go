package embed

import (
	"context"

	qerrors "github.com/quarrylabs/quarry/internal/errors"
)

// RetryingEmbedder wraps a DenseEmbedder with exponential-backoff retries.
// Only retryable failures (timeouts, provider unavailability) are retried;
// validation and internal errors surface immediately.
type RetryingEmbedder struct {
	inner DenseEmbedder
	cfg   qerrors.RetryConfig
}

var _ DenseEmbedder = (*RetryingEmbedder)(nil)

// NewRetryingEmbedder wraps inner with the given retry policy. A zero
// MaxRetries gets the default policy.
func NewRetryingEmbedder(inner DenseEmbedder, cfg qerrors.RetryConfig) *RetryingEmbedder {
	if cfg.MaxRetries == 0 {
		cfg = qerrors.DefaultRetryConfig()
	}
	return &RetryingEmbedder{inner: inner, cfg: cfg}
}

// EmbedDense embeds with retries on transient failures.
func (r *RetryingEmbedder) EmbedDense(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	vecs, err := qerrors.RetryWithResult(ctx, r.cfg, func() ([][]float32, error) {
		v, err := r.inner.EmbedDense(ctx, texts)
		if err != nil {
			lastErr = err
			if !qerrors.IsRetryable(err) {
				// Returning nil stops the retry loop; the real error is
				// re-raised below.
				return nil, nil
			}
			return nil, err
		}
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	if vecs == nil && lastErr != nil {
		return nil, lastErr
	}
	return vecs, nil
}

// Dimensions passes through to the inner embedder.
func (r *RetryingEmbedder) Dimensions() int {
	return r.inner.Dimensions()
}

// ModelName passes through to the inner embedder.
func (r *RetryingEmbedder) ModelName() string {
	return r.inner.ModelName()
}

// Available passes through to the inner embedder.
func (r *RetryingEmbedder) Available(ctx context.Context) bool {
	return r.inner.Available(ctx)
}

// Close closes the inner embedder.
func (r *RetryingEmbedder) Close() error {
	return r.inner.Close()
}
