package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// keywordBackends builds each keyword-capable sparse backend in memory.
func keywordBackends(t *testing.T) map[string]SparseIndex {
	t.Helper()
	cfg := DefaultSparseConfig()

	fts, err := NewFTSKeywordIndex("", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fts.Close() })

	blv, err := NewBleveKeywordIndex("", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = blv.Close() })

	return map[string]SparseIndex{
		"fts5":  fts,
		"bleve": blv,
	}
}

func TestKeywordBackends_IndexAndSearch(t *testing.T) {
	ctx := context.Background()

	for name, idx := range keywordBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, idx.Index(ctx, []*SparseDocument{
				{ID: "doc1", DatasetID: "ds1", Content: "func parseConfig() error { return loadYAML() }"},
				{ID: "doc2", DatasetID: "ds1", Content: "func handleRequest(w http.ResponseWriter) {}"},
				{ID: "doc3", DatasetID: "ds1", Content: "type ConfigLoader struct { path string }"},
			}))

			results, err := idx.Search(ctx, SparseQuery{Text: "parse config"}, 10)
			require.NoError(t, err)
			require.NotEmpty(t, results)
			assert.Equal(t, "doc1", results[0].DocID)
			assert.Greater(t, results[0].Score, 0.0)
		})
	}
}

func TestKeywordBackends_CamelCaseMatching(t *testing.T) {
	ctx := context.Background()

	for name, idx := range keywordBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, idx.Index(ctx, []*SparseDocument{
				{ID: "doc1", DatasetID: "ds1", Content: "func getUserById(id string) (*User, error)"},
			}))

			// Lowercase query terms must hit the camelCase identifier.
			results, err := idx.Search(ctx, SparseQuery{Text: "user by id"}, 10)
			require.NoError(t, err)
			require.NotEmpty(t, results)
			assert.Equal(t, "doc1", results[0].DocID)
		})
	}
}

func TestKeywordBackends_DatasetScoping(t *testing.T) {
	ctx := context.Background()

	for name, idx := range keywordBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, idx.Index(ctx, []*SparseDocument{
				{ID: "a", DatasetID: "ds1", Content: "database connection pooling"},
				{ID: "b", DatasetID: "ds2", Content: "database connection retries"},
			}))

			results, err := idx.Search(ctx, SparseQuery{Text: "database connection", Datasets: []string{"ds2"}}, 10)
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, "b", results[0].DocID)

			// Unscoped query sees both.
			results, err = idx.Search(ctx, SparseQuery{Text: "database connection"}, 10)
			require.NoError(t, err)
			assert.Len(t, results, 2)
		})
	}
}

func TestKeywordBackends_Delete(t *testing.T) {
	ctx := context.Background()

	for name, idx := range keywordBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, idx.Index(ctx, []*SparseDocument{
				{ID: "a", DatasetID: "ds1", Content: "alpha document"},
				{ID: "b", DatasetID: "ds1", Content: "beta document"},
			}))

			require.NoError(t, idx.Delete(ctx, []string{"a"}))

			ids, err := idx.AllIDs()
			require.NoError(t, err)
			assert.Equal(t, []string{"b"}, ids)

			results, err := idx.Search(ctx, SparseQuery{Text: "alpha"}, 10)
			require.NoError(t, err)
			assert.Empty(t, results)
		})
	}
}

func TestKeywordBackends_Reindex(t *testing.T) {
	ctx := context.Background()

	for name, idx := range keywordBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, idx.Index(ctx, []*SparseDocument{
				{ID: "a", DatasetID: "ds1", Content: "original content"},
			}))
			require.NoError(t, idx.Index(ctx, []*SparseDocument{
				{ID: "a", DatasetID: "ds1", Content: "replacement text"},
			}))

			stats := idx.Stats()
			assert.Equal(t, 1, stats.DocumentCount)

			results, err := idx.Search(ctx, SparseQuery{Text: "original"}, 10)
			require.NoError(t, err)
			assert.Empty(t, results)

			results, err = idx.Search(ctx, SparseQuery{Text: "replacement"}, 10)
			require.NoError(t, err)
			require.Len(t, results, 1)
		})
	}
}

func TestSparseVectorIndex_SearchByDotProduct(t *testing.T) {
	ctx := context.Background()
	idx, err := NewSparseVectorIndex("")
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	require.NoError(t, idx.Index(ctx, []*SparseDocument{
		{ID: "a", DatasetID: "ds1", Vector: map[string]float32{"retriev": 0.9, "hybrid": 0.5}},
		{ID: "b", DatasetID: "ds1", Vector: map[string]float32{"retriev": 0.3}},
		{ID: "c", DatasetID: "ds1", Vector: map[string]float32{"unrelated": 1.0}},
	}))

	results, err := idx.Search(ctx, SparseQuery{
		Vector: map[string]float32{"retriev": 1.0, "hybrid": 1.0},
	}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].DocID)
	assert.InDelta(t, 1.4, results[0].Score, 0.001)
	assert.Equal(t, "b", results[1].DocID)
	assert.ElementsMatch(t, []string{"retriev", "hybrid"}, results[0].MatchedTerms)
}

func TestSparseVectorIndex_DatasetScopingAndDelete(t *testing.T) {
	ctx := context.Background()
	idx, err := NewSparseVectorIndex("")
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	require.NoError(t, idx.Index(ctx, []*SparseDocument{
		{ID: "a", DatasetID: "ds1", Vector: map[string]float32{"term": 0.5}},
		{ID: "b", DatasetID: "ds2", Vector: map[string]float32{"term": 0.9}},
	}))

	results, err := idx.Search(ctx, SparseQuery{
		Vector:   map[string]float32{"term": 1.0},
		Datasets: []string{"ds1"},
	}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].DocID)

	require.NoError(t, idx.Delete(ctx, []string{"a", "b"}))
	stats := idx.Stats()
	assert.Equal(t, 0, stats.DocumentCount)
	assert.Equal(t, 0, stats.TermCount)
}

func TestSparseVectorIndex_SkipsEmptyVectors(t *testing.T) {
	ctx := context.Background()
	idx, err := NewSparseVectorIndex("")
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	require.NoError(t, idx.Index(ctx, []*SparseDocument{
		{ID: "empty", DatasetID: "ds1", Content: "text only, no vector"},
		{ID: "zero", DatasetID: "ds1", Vector: map[string]float32{"term": 0}},
	}))

	ids, err := idx.AllIDs()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSparseVectorIndex_SaveLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.sparse")

	idx, err := NewSparseVectorIndex(path)
	require.NoError(t, err)
	require.NoError(t, idx.Index(ctx, []*SparseDocument{
		{ID: "a", DatasetID: "ds1", Vector: map[string]float32{"persist": 0.7}},
	}))
	require.NoError(t, idx.Save(path))
	require.NoError(t, idx.Close())

	// Constructor reloads from an existing path.
	reloaded, err := NewSparseVectorIndex(path)
	require.NoError(t, err)
	defer func() { _ = reloaded.Close() }()

	results, err := reloaded.Search(ctx, SparseQuery{
		Vector:   map[string]float32{"persist": 1.0},
		Datasets: []string{"ds1"},
	}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].DocID)
}

func TestNewSparseIndex_Backends(t *testing.T) {
	tests := []struct {
		backend string
		wantErr bool
	}{
		{backend: "vector"},
		{backend: ""},
		{backend: "fts5"},
		{backend: "bleve"},
		{backend: "elasticsearch", wantErr: true},
	}

	for _, tt := range tests {
		t.Run("backend_"+tt.backend, func(t *testing.T) {
			idx, err := NewSparseIndex("", DefaultSparseConfig(), tt.backend)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, idx)
			_ = idx.Close()
		})
	}
}

func TestDetectSparseBackend(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "sparse")

	assert.Equal(t, SparseBackend(""), DetectSparseBackend(base))

	idx, err := NewSparseVectorIndex(base + ".sparse")
	require.NoError(t, err)
	require.NoError(t, idx.Save(base+".sparse"))
	require.NoError(t, idx.Close())

	assert.Equal(t, SparseBackendVector, DetectSparseBackend(base))
}

func TestSparseIndexPath(t *testing.T) {
	assert.Equal(t, filepath.Join("data", "sparse.sparse"), SparseIndexPath("data", "vector"))
	assert.Equal(t, filepath.Join("data", "sparse.db"), SparseIndexPath("data", "fts5"))
	assert.Equal(t, filepath.Join("data", "sparse.bleve"), SparseIndexPath("data", "bleve"))
}
