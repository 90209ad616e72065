package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVectorStore(t *testing.T, dims int) *HNSWStore {
	t.Helper()
	s, err := NewHNSWStore(DefaultVectorStoreConfig(dims))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestHNSWStore_AddAndSearch(t *testing.T) {
	s := testVectorStore(t, 3)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, []*VectorRecord{
		{ID: "a", DatasetID: "ds1", Vector: []float32{1, 0, 0}},
		{ID: "b", DatasetID: "ds1", Vector: []float32{0, 1, 0}},
		{ID: "c", DatasetID: "ds1", Vector: []float32{0.9, 0.1, 0}},
	}))
	assert.Equal(t, 3, s.Count())

	results, err := s.Search(ctx, []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "c", results[1].ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestHNSWStore_DimensionMismatch(t *testing.T) {
	s := testVectorStore(t, 3)
	ctx := context.Background()

	err := s.Add(ctx, []*VectorRecord{{ID: "a", Vector: []float32{1, 0}}})
	var dimErr ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 3, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Got)

	_, err = s.Search(ctx, []float32{1, 0}, 1, nil)
	assert.ErrorAs(t, err, &dimErr)
}

func TestHNSWStore_DatasetScoping(t *testing.T) {
	s := testVectorStore(t, 3)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, []*VectorRecord{
		{ID: "a1", DatasetID: "ds1", Vector: []float32{1, 0, 0}},
		{ID: "a2", DatasetID: "ds1", Vector: []float32{0.9, 0.1, 0}},
		{ID: "b1", DatasetID: "ds2", Vector: []float32{0.95, 0.05, 0}},
		{ID: "b2", DatasetID: "ds2", Vector: []float32{0, 1, 0}},
	}))

	results, err := s.Search(ctx, []float32{1, 0, 0}, 10, []string{"ds2"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Contains(t, []string{"b1", "b2"}, r.ID)
	}

	// Empty dataset filter means no scoping.
	results, err = s.Search(ctx, []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	assert.Len(t, results, 4)
}

func TestHNSWStore_Replace(t *testing.T) {
	s := testVectorStore(t, 3)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, []*VectorRecord{
		{ID: "a", DatasetID: "ds1", Vector: []float32{1, 0, 0}},
	}))
	require.NoError(t, s.Add(ctx, []*VectorRecord{
		{ID: "a", DatasetID: "ds1", Vector: []float32{0, 1, 0}},
	}))

	assert.Equal(t, 1, s.Count())

	results, err := s.Search(ctx, []float32{0, 1, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 1.0, float64(results[0].Score), 0.01)
}

func TestHNSWStore_Delete(t *testing.T) {
	s := testVectorStore(t, 3)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, []*VectorRecord{
		{ID: "a", DatasetID: "ds1", Vector: []float32{1, 0, 0}},
		{ID: "b", DatasetID: "ds1", Vector: []float32{0, 1, 0}},
	}))

	require.NoError(t, s.Delete(ctx, []string{"a"}))
	assert.False(t, s.Contains("a"))
	assert.True(t, s.Contains("b"))
	assert.Equal(t, 1, s.Count())

	// The lazily deleted node must not surface in search results.
	results, err := s.Search(ctx, []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)

	stats := s.Stats()
	assert.Equal(t, 1, stats.ValidIDs)
	assert.Equal(t, 2, stats.GraphNodes)
	assert.Equal(t, 1, stats.Orphans)
}

func TestHNSWStore_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.hnsw")
	ctx := context.Background()

	s := testVectorStore(t, 3)
	require.NoError(t, s.Add(ctx, []*VectorRecord{
		{ID: "a", DatasetID: "ds1", Vector: []float32{1, 0, 0}},
		{ID: "b", DatasetID: "ds2", Vector: []float32{0, 1, 0}},
	}))
	require.NoError(t, s.Save(path))

	loaded, err := NewHNSWStore(DefaultVectorStoreConfig(3))
	require.NoError(t, err)
	defer func() { _ = loaded.Close() }()
	require.NoError(t, loaded.Load(path))

	assert.Equal(t, 2, loaded.Count())
	assert.ElementsMatch(t, []string{"a", "b"}, loaded.AllIDs())

	// Dataset scoping survives the round trip.
	results, err := loaded.Search(ctx, []float32{1, 0, 0}, 10, []string{"ds1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestHNSWStore_EmptySearch(t *testing.T) {
	s := testVectorStore(t, 3)

	results, err := s.Search(context.Background(), []float32{1, 0, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestReadHNSWStoreDimensions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.hnsw")

	// No metadata yet: fresh start.
	dims, err := ReadHNSWStoreDimensions(path)
	require.NoError(t, err)
	assert.Equal(t, 0, dims)

	s := testVectorStore(t, 5)
	require.NoError(t, s.Add(context.Background(), []*VectorRecord{
		{ID: "a", Vector: []float32{1, 0, 0, 0, 0}},
	}))
	require.NoError(t, s.Save(path))

	dims, err = ReadHNSWStoreDimensions(path)
	require.NoError(t, err)
	assert.Equal(t, 5, dims)
}

func TestNormalizeVectorInPlace(t *testing.T) {
	v := []float32{3, 4}
	normalizeVectorInPlace(v)
	assert.InDelta(t, 0.6, float64(v[0]), 0.001)
	assert.InDelta(t, 0.8, float64(v[1]), 0.001)

	// Zero vector is left alone.
	z := []float32{0, 0}
	normalizeVectorInPlace(z)
	assert.Equal(t, []float32{0, 0}, z)
}

func TestDistanceToScore(t *testing.T) {
	assert.InDelta(t, 1.0, float64(distanceToScore(0, "cos")), 0.001)
	assert.InDelta(t, 0.5, float64(distanceToScore(1, "cos")), 0.001)
	assert.InDelta(t, 0.0, float64(distanceToScore(2, "cos")), 0.001)
	assert.InDelta(t, 1.0, float64(distanceToScore(0, "l2")), 0.001)
	assert.InDelta(t, 0.5, float64(distanceToScore(1, "l2")), 0.001)
}
