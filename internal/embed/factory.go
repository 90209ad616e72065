package embed

import (
	"context"
	"log/slog"
	"strings"

	"github.com/quarrylabs/quarry/internal/config"
	qerrors "github.com/quarrylabs/quarry/internal/errors"
)

// NewDenseEmbedder builds the configured dense embedder, wrapped with
// retries and an LRU cache. Provider "ollama" and "static" are explicit;
// an empty provider auto-detects: Ollama if reachable, otherwise the hash
// embedder.
func NewDenseEmbedder(ctx context.Context, cfg config.EmbeddingsConfig, logger *slog.Logger) (DenseEmbedder, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var inner DenseEmbedder
	switch strings.ToLower(cfg.Provider) {
	case "ollama":
		e, err := newOllamaFromConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		inner = e

	case "static":
		inner = NewStaticEmbedder()

	case "":
		e, err := newOllamaFromConfig(ctx, cfg)
		if err != nil {
			logger.Warn("Ollama unavailable, using hash embeddings",
				slog.String("error", err.Error()))
			inner = NewStaticEmbedder()
		} else {
			inner = e
		}

	default:
		return nil, qerrors.ValidationError("unknown embeddings provider: "+cfg.Provider, nil).
			WithSuggestion("set embeddings.provider to 'ollama', 'static', or leave empty")
	}

	logger.Info("dense embedder ready",
		slog.String("model", inner.ModelName()),
		slog.Int("dimensions", inner.Dimensions()))

	return NewCachedEmbedder(NewRetryingEmbedder(inner, qerrors.DefaultRetryConfig()), cfg.CacheSize), nil
}

func newOllamaFromConfig(ctx context.Context, cfg config.EmbeddingsConfig) (*OllamaEmbedder, error) {
	return NewOllamaEmbedder(ctx, OllamaConfig{
		Host:       cfg.OllamaHost,
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
		BatchSize:  cfg.BatchSize,
		Timeout:    cfg.RequestTimeout,
	})
}

// NewSparseEmbedder builds the sparse embedding client, or nil when no
// endpoint is configured. Sparse embedding is optional; without it the
// keyword backends still provide the sparse retrieval leg.
func NewSparseEmbedder(cfg config.EmbeddingsConfig) (SparseEmbedder, error) {
	if cfg.SparseEndpoint == "" {
		return nil, nil
	}
	return NewHTTPSparseEmbedder(HTTPSparseConfig{
		Endpoint:  cfg.SparseEndpoint,
		BatchSize: cfg.BatchSize,
		Timeout:   cfg.RequestTimeout,
	})
}

// NewReranker builds the rerank client, or nil when no endpoint is
// configured.
func NewReranker(cfg config.EmbeddingsConfig) (Reranker, error) {
	if cfg.RerankEndpoint == "" {
		return nil, nil
	}
	return NewHTTPReranker(HTTPRerankerConfig{
		Endpoint: cfg.RerankEndpoint,
		Timeout:  cfg.RequestTimeout,
	})
}
