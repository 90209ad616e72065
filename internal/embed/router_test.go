package embed

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_BothLegs(t *testing.T) {
	dense := newFakeDense()
	sparse := &fakeSparse{}
	r := NewRouter(dense, sparse, slog.Default())

	dvecs, svecs, err := r.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, dvecs, 2)
	require.Len(t, svecs, 2)
	assert.Equal(t, float32(1.0), svecs[0]["a"])
}

func TestRouter_DenseFailureFailsBatch(t *testing.T) {
	dense := newFakeDense()
	dense.failTime = 100
	r := NewRouter(dense, &fakeSparse{}, slog.Default())

	_, _, err := r.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
}

func TestRouter_SparseFailureDegradesToDenseOnly(t *testing.T) {
	dense := newFakeDense()
	sparse := &fakeSparse{fail: true}
	r := NewRouter(dense, sparse, slog.Default())

	dvecs, svecs, err := r.Embed(context.Background(), []string{"a"})
	require.NoError(t, err, "sparse failure must not fail the batch")
	require.Len(t, dvecs, 1)
	assert.Nil(t, svecs)
}

func TestRouter_NoSparseLeg(t *testing.T) {
	dense := newFakeDense()
	r := NewRouter(dense, nil, nil)

	dvecs, svecs, err := r.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)
	require.Len(t, dvecs, 1)
	assert.Nil(t, svecs)
	assert.Nil(t, r.Sparse())
	assert.Equal(t, dense.Dimensions(), r.Dimensions())
}
