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

const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "qwen3-embedding:8b"

	ollamaPoolSize = 4
)

// fallbackOllamaModels are tried in order when the configured model is not
// installed.
var fallbackOllamaModels = []string{
	"qwen3-embedding:4b",
	"embeddinggemma",
	"nomic-embed-text",
}

// OllamaConfig configures the Ollama dense embedder.
type OllamaConfig struct {
	Host       string
	Model      string
	Dimensions int // 0 = auto-detect from the first embedding
	BatchSize  int
	Timeout    time.Duration

	// SkipHealthCheck bypasses model discovery, for tests.
	SkipHealthCheck bool
}

// OllamaEmbedder generates dense embeddings through Ollama's HTTP API.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
	modelName string
	dims      int

	mu     sync.RWMutex
	closed bool
}

var _ DenseEmbedder = (*OllamaEmbedder)(nil)

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

type ollamaModel struct {
	Name string `json:"name"`
}

type ollamaModelList struct {
	Models []ollamaModel `json:"models"`
}

// NewOllamaEmbedder connects to Ollama, resolves an installed embedding
// model, and detects dimensions when not configured.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	cfg.BatchSize = clampBatchSize(cfg.BatchSize)
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}

	// Short idle timeout: indexing runs are short-lived and connections
	// should drop promptly after completion. No client-level timeout;
	// per-request contexts control deadlines so cancellation propagates.
	transport := &http.Transport{
		MaxIdleConns:        ollamaPoolSize,
		MaxIdleConnsPerHost: ollamaPoolSize,
		MaxConnsPerHost:     ollamaPoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}
	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		modelName: cfg.Model,
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		if err := e.discover(ctx); err != nil {
			transport.CloseIdleConnections()
			return nil, err
		}
	}
	if e.dims == 0 {
		e.dims = DefaultDimensions
	}
	return e, nil
}

// discover resolves the model name against the installed list and probes
// the embedding dimensionality if it was not configured.
func (e *OllamaEmbedder) discover(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	model, err := e.resolveModel(checkCtx)
	if err != nil {
		return qerrors.New(qerrors.ErrCodeEmbedderUnavailable, "cannot reach Ollama or no embedding model installed", err).
			WithSuggestion("start Ollama and pull an embedding model, e.g. `ollama pull " + e.config.Model + "`")
	}
	e.modelName = model

	if e.dims != 0 {
		return nil
	}
	probe, err := e.requestEmbeddings(checkCtx, []string{"dimension detection"})
	if err == nil && (len(probe) == 0 || len(probe[0]) == 0) {
		err = fmt.Errorf("empty embedding returned")
	}
	if err != nil {
		return qerrors.New(qerrors.ErrCodeEmbedderUnavailable, "failed to detect embedding dimensions", err)
	}
	e.dims = len(probe[0])
	return nil
}

func (e *OllamaEmbedder) installedModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect to Ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var list ollamaModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode model list: %w", err)
	}
	names := make([]string, len(list.Models))
	for i, m := range list.Models {
		names[i] = m.Name
	}
	return names, nil
}

// resolveModel picks the configured model or a fallback from the installed
// list, matching with and without the ":tag" suffix.
func (e *OllamaEmbedder) resolveModel(ctx context.Context) (string, error) {
	installed, err := e.installedModels(ctx)
	if err != nil {
		return "", err
	}

	byName := make(map[string]string) // normalized -> installed name
	for _, name := range installed {
		low := strings.ToLower(name)
		byName[low] = name
		if base, _, found := strings.Cut(low, ":"); found {
			if _, taken := byName[base]; !taken {
				byName[base] = name
			}
		}
	}

	for _, want := range append([]string{e.config.Model}, fallbackOllamaModels...) {
		low := strings.ToLower(want)
		if hit, ok := byName[low]; ok {
			return hit, nil
		}
		base, _, _ := strings.Cut(low, ":")
		if hit, ok := byName[base]; ok {
			return hit, nil
		}
	}
	return "", fmt.Errorf("no embedding model installed (tried %s and fallbacks %v)", e.config.Model, fallbackOllamaModels)
}

// EmbedDense embeds texts in provider-sized batches. Empty or whitespace
// inputs get zero vectors without a request.
func (e *OllamaEmbedder) EmbedDense(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, len(texts))
	var pending []int // indexes into texts still needing a real embedding
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			out[i] = make([]float32, e.dims)
			continue
		}
		pending = append(pending, i)
	}

	for lo := 0; lo < len(pending); lo += e.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hi := min(lo+e.config.BatchSize, len(pending))
		chunk := pending[lo:hi]

		payload := make([]string, len(chunk))
		for j, idx := range chunk {
			payload[j] = texts[idx]
		}

		reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
		vecs, err := e.requestEmbeddings(reqCtx, payload)
		cancel()
		if err != nil {
			return nil, qerrors.New(qerrors.ErrCodeEmbedderUnavailable, "dense embedding request failed", err)
		}
		if len(vecs) != len(chunk) {
			return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(chunk), len(vecs))
		}
		for j, idx := range chunk {
			out[idx] = vecs[j]
		}
	}
	return out, nil
}

func (e *OllamaEmbedder) requestEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	// Ollama accepts a bare string or a list.
	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.modelName, Input: input})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
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
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding failed with status %d: %s", resp.StatusCode, string(msg))
	}

	var parsed ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}

	vecs := make([][]float32, len(parsed.Embeddings))
	for i, raw := range parsed.Embeddings {
		vec := make([]float32, len(raw))
		for j, v := range raw {
			vec[j] = float32(v)
		}
		vecs[i] = normalizeVector(vec)
	}
	return vecs, nil
}

// Dimensions returns the embedding dimensionality.
func (e *OllamaEmbedder) Dimensions() int { return e.dims }

// ModelName returns the resolved model name.
func (e *OllamaEmbedder) ModelName() string { return e.modelName }

// Available reports whether Ollama is reachable and still has the model.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return false
	}

	installed, err := e.installedModels(ctx)
	if err != nil {
		return false
	}
	wantBase, _, _ := strings.Cut(strings.ToLower(e.modelName), ":")
	for _, name := range installed {
		base, _, _ := strings.Cut(strings.ToLower(name), ":")
		if strings.EqualFold(name, e.modelName) || base == wantBase {
			return true
		}
	}
	return false
}

// Close releases HTTP connections.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		e.transport.CloseIdleConnections()
	}
	return nil
}
