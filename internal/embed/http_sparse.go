package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	qerrors "github.com/quarrylabs/quarry/internal/errors"
)

// HTTPSparseConfig configures the HTTP sparse embedding client.
type HTTPSparseConfig struct {
	Endpoint  string // e.g. http://localhost:8001/embed_sparse
	Model     string
	BatchSize int
	Timeout   time.Duration
}

// HTTPSparseEmbedder calls an external sparse embedding service (a SPLADE
// style model behind an HTTP endpoint). The service takes a batch of texts
// and returns one term->weight map per text.
type HTTPSparseEmbedder struct {
	client *http.Client
	config HTTPSparseConfig

	mu     sync.RWMutex
	closed bool
}

var _ SparseEmbedder = (*HTTPSparseEmbedder)(nil)

type sparseEmbedRequest struct {
	Model string   `json:"model,omitempty"`
	Texts []string `json:"texts"`
}

type sparseEmbedResponse struct {
	Vectors []map[string]float32 `json:"vectors"`
}

// NewHTTPSparseEmbedder creates a sparse embedding client. The endpoint is
// required; there is no local fallback for sparse vectors.
func NewHTTPSparseEmbedder(cfg HTTPSparseConfig) (*HTTPSparseEmbedder, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("sparse embedding endpoint is required")
	}
	cfg.BatchSize = clampBatchSize(cfg.BatchSize)
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}

	return &HTTPSparseEmbedder{
		client: &http.Client{},
		config: cfg,
	}, nil
}

// EmbedSparse embeds texts in batches. Empty inputs get empty maps.
func (e *HTTPSparseEmbedder) EmbedSparse(ctx context.Context, texts []string) ([]map[string]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("sparse embedder is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return []map[string]float32{}, nil
	}

	type indexedText struct {
		idx  int
		text string
	}
	var nonEmpty []indexedText
	results := make([]map[string]float32, len(texts))

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = map[string]float32{}
		} else {
			nonEmpty = append(nonEmpty, indexedText{i, text})
		}
	}

	for start := 0; start < len(nonEmpty); start += e.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := min(start+e.config.BatchSize, len(nonEmpty))
		batch := nonEmpty[start:end]
		batchTexts := make([]string, len(batch))
		for i, it := range batch {
			batchTexts[i] = it.text
		}

		reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
		vectors, err := e.doEmbed(reqCtx, batchTexts)
		cancel()
		if err != nil {
			return nil, qerrors.New(qerrors.ErrCodeBackendUnavailable, "sparse embedding request failed", err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("sparse vector count mismatch: sent %d texts, got %d vectors", len(batch), len(vectors))
		}

		for i, vec := range vectors {
			results[batch[i].idx] = vec
		}
	}

	return results, nil
}

func (e *HTTPSparseEmbedder) doEmbed(ctx context.Context, texts []string) ([]map[string]float32, error) {
	body, err := json.Marshal(sparseEmbedRequest{Model: e.config.Model, Texts: texts})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("sparse embedding failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result sparseEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode sparse embedding response: %w", err)
	}
	return result.Vectors, nil
}

// ModelName returns the configured model name.
func (e *HTTPSparseEmbedder) ModelName() string {
	if e.config.Model != "" {
		return e.config.Model
	}
	return "http-sparse"
}

// Available probes the endpoint with a HEAD request.
func (e *HTTPSparseEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	e.mu.RUnlock()

	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, e.config.Endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Close marks the client closed.
func (e *HTTPSparseEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.client.CloseIdleConnections()
	return nil
}
