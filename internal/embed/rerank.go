package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	qerrors "github.com/quarrylabs/quarry/internal/errors"
)

// HTTPRerankerConfig configures the HTTP reranker client.
type HTTPRerankerConfig struct {
	Endpoint string // e.g. http://localhost:8002/rerank
	Model    string
	Timeout  time.Duration
}

// HTTPReranker scores query/document pairs through a cross-encoder service.
type HTTPReranker struct {
	client *http.Client
	config HTTPRerankerConfig

	mu     sync.RWMutex
	closed bool
}

var _ Reranker = (*HTTPReranker)(nil)

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

// NewHTTPReranker creates a reranker client for the given endpoint.
func NewHTTPReranker(cfg HTTPRerankerConfig) (*HTTPReranker, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("rerank endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}

	return &HTTPReranker{
		client: &http.Client{},
		config: cfg,
	}, nil
}

// Rerank scores candidates against the query, one score per candidate in
// candidate order.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, candidates []string) ([]float64, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, fmt.Errorf("reranker is closed")
	}
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return []float64{}, nil
	}

	body, err := json.Marshal(rerankRequest{
		Model:     r.config.Model,
		Query:     query,
		Documents: candidates,
	})
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, r.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeRerankerUnavailable, "rerank request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, qerrors.New(qerrors.ErrCodeRerankerUnavailable,
			fmt.Sprintf("rerank failed with status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	if len(result.Scores) != len(candidates) {
		return nil, fmt.Errorf("rerank score count mismatch: sent %d candidates, got %d scores", len(candidates), len(result.Scores))
	}
	return result.Scores, nil
}

// ModelName returns the configured model name.
func (r *HTTPReranker) ModelName() string {
	if r.config.Model != "" {
		return r.config.Model
	}
	return "http-reranker"
}

// Available probes the endpoint with a HEAD request.
func (r *HTTPReranker) Available(ctx context.Context) bool {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return false
	}
	r.mu.RUnlock()

	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, r.config.Endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Close marks the client closed.
func (r *HTTPReranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.client.CloseIdleConnections()
	return nil
}
