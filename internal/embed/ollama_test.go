package embed

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newOllamaServer fakes the two Ollama endpoints the embedder uses.
func newOllamaServer(t *testing.T, models []string, dims int) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		var list ollamaModelList
		for _, m := range models {
			list.Models = append(list.Models, ollamaModel{Name: m})
		}
		_ = json.NewEncoder(w).Encode(list)
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		count := 1
		if texts, ok := req.Input.([]any); ok {
			count = len(texts)
		}

		embeddings := make([][]float64, count)
		for i := range embeddings {
			vec := make([]float64, dims)
			vec[0] = float64(i + 1)
			embeddings[i] = vec
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: embeddings})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaEmbedder_ResolvesConfiguredModel(t *testing.T) {
	srv := newOllamaServer(t, []string{"qwen3-embedding:8b", "llama3:latest"}, 8)

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:  srv.URL,
		Model: "qwen3-embedding:8b",
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	assert.Equal(t, "qwen3-embedding:8b", e.ModelName())
	assert.Equal(t, 8, e.Dimensions(), "dimensions auto-detected from probe embedding")
	assert.True(t, e.Available(context.Background()))
}

func TestOllamaEmbedder_ModelResolvedByBaseName(t *testing.T) {
	srv := newOllamaServer(t, []string{"qwen3-embedding:4b"}, 8)

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:  srv.URL,
		Model: "qwen3-embedding:8b",
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	assert.Equal(t, "qwen3-embedding:4b", e.ModelName())
}

func TestOllamaEmbedder_FallbackModel(t *testing.T) {
	srv := newOllamaServer(t, []string{"nomic-embed-text:latest"}, 8)

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:  srv.URL,
		Model: "qwen3-embedding:8b",
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	assert.Equal(t, "nomic-embed-text:latest", e.ModelName())
}

func TestOllamaEmbedder_NoModelInstalled(t *testing.T) {
	srv := newOllamaServer(t, []string{"llama3:latest"}, 8)

	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:  srv.URL,
		Model: "qwen3-embedding:8b",
	})
	require.Error(t, err)
}

func TestOllamaEmbedder_EmbedDense(t *testing.T) {
	srv := newOllamaServer(t, []string{"qwen3-embedding:8b"}, 4)

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:  srv.URL,
		Model: "qwen3-embedding:8b",
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	vecs, err := e.EmbedDense(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	for _, vec := range vecs {
		require.Len(t, vec, 4)

		var sumSquares float64
		for _, v := range vec {
			sumSquares += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, math.Sqrt(sumSquares), 0.001, "vectors must be normalized")
	}
}

func TestOllamaEmbedder_EmptyTextsGetZeroVectors(t *testing.T) {
	srv := newOllamaServer(t, []string{"qwen3-embedding:8b"}, 4)

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:  srv.URL,
		Model: "qwen3-embedding:8b",
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	vecs, err := e.EmbedDense(context.Background(), []string{"", "real text", "  "})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	for _, v := range vecs[0] {
		assert.Zero(t, v)
	}
	assert.NotEqual(t, vecs[0], vecs[1])
}

func TestOllamaEmbedder_ClosedRejectsCalls(t *testing.T) {
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:            "http://localhost:1",
		SkipHealthCheck: true,
		Dimensions:      4,
	})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	_, err = e.EmbedDense(context.Background(), []string{"text"})
	assert.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}

func TestOllamaEmbedder_UnreachableHost(t *testing.T) {
	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: "http://localhost:1",
	})
	require.Error(t, err)
}
