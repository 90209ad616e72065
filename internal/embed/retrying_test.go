package embed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/quarrylabs/quarry/internal/errors"
)

func fastRetry(maxRetries int) qerrors.RetryConfig {
	return qerrors.RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetryingEmbedder_RecoversFromTransientFailure(t *testing.T) {
	inner := newFakeDense()
	inner.failTime = 2
	r := NewRetryingEmbedder(inner, fastRetry(3))

	vecs, err := r.EmbedDense(context.Background(), []string{"text"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Equal(t, 3, inner.callCount())
}

func TestRetryingEmbedder_ExhaustsRetries(t *testing.T) {
	inner := newFakeDense()
	inner.failTime = 100
	r := NewRetryingEmbedder(inner, fastRetry(2))

	_, err := r.EmbedDense(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.Equal(t, 3, inner.callCount(), "initial attempt plus two retries")
}

func TestRetryingEmbedder_NonRetryableFailsImmediately(t *testing.T) {
	inner := newFakeDense()
	inner.failTime = 100
	inner.fatal = true
	r := NewRetryingEmbedder(inner, fastRetry(3))

	_, err := r.EmbedDense(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.False(t, qerrors.IsRetryable(err))
	assert.Equal(t, 1, inner.callCount(), "validation errors must not be retried")
}

func TestRetryingEmbedder_ContextCancellation(t *testing.T) {
	inner := newFakeDense()
	inner.failTime = 100
	r := NewRetryingEmbedder(inner, fastRetry(5))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.EmbedDense(ctx, []string{"text"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryingEmbedder_Passthrough(t *testing.T) {
	inner := newFakeDense()
	r := NewRetryingEmbedder(inner, qerrors.RetryConfig{})

	assert.Equal(t, inner.Dimensions(), r.Dimensions())
	assert.Equal(t, inner.ModelName(), r.ModelName())
	assert.True(t, r.Available(context.Background()))
	assert.NoError(t, r.Close())
}
