package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/quarrylabs/quarry/internal/store"
)

// Hash embedder weights. Tokens carry most of the signal; character
// n-grams add fuzzy matching for typos and partial identifiers.
const (
	staticTokenWeight = 0.7
	staticNgramWeight = 0.3
	staticNgramSize   = 3
)

// StaticEmbedder generates deterministic hash-based embeddings with no
// network and no model. Quality is well below a real model; it exists so
// indexing and retrieval keep working when no provider is reachable.
type StaticEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

var _ DenseEmbedder = (*StaticEmbedder)(nil)

// programmingStopWords are keywords too common in code to carry signal.
var programmingStopWords = store.BuildStopWordMap([]string{
	"func", "function", "def", "class", "return", "import",
	"const", "var", "let", "int", "string", "bool", "void",
	"true", "false", "nil", "null", "this", "self", "new",
})

// NewStaticEmbedder creates a hash-based embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

// EmbedDense generates one hash vector per text.
func (e *StaticEmbedder) EmbedDense(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	results := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			results[i] = make([]float32, StaticDimensions)
			continue
		}
		results[i] = normalizeVector(e.generateVector(trimmed))
	}
	return results, nil
}

func (e *StaticEmbedder) generateVector(text string) []float32 {
	vector := make([]float32, StaticDimensions)

	tokens := store.FilterStopWords(store.TokenizeCode(text), programmingStopWords)
	for _, token := range tokens {
		vector[hashToIndex(token, StaticDimensions)] += staticTokenWeight
	}

	normalized := normalizeForNgrams(text)
	for _, ngram := range extractNgrams(normalized, staticNgramSize) {
		vector[hashToIndex(ngram, StaticDimensions)] += staticNgramWeight
	}

	return vector
}

// hashToIndex maps a token to a vector index via FNV-1a.
func hashToIndex(s string, dims int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(dims))
}

// normalizeForNgrams lowercases and collapses non-alphanumerics to single
// spaces so n-grams span word boundaries consistently.
func normalizeForNgrams(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	lastSpace := true
	for _, r := range strings.ToLower(text) {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if isAlnum {
			b.WriteRune(r)
			lastSpace = false
		} else if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// extractNgrams emits character n-grams of the given size.
func extractNgrams(text string, size int) []string {
	if len(text) < size {
		return nil
	}
	ngrams := make([]string, 0, len(text)-size+1)
	for i := 0; i+size <= len(text); i++ {
		ngrams = append(ngrams, text[i:i+size])
	}
	return ngrams
}

// Dimensions returns the fixed hash vector dimensionality.
func (e *StaticEmbedder) Dimensions() int {
	return StaticDimensions
}

// ModelName returns the static model identifier.
func (e *StaticEmbedder) ModelName() string {
	return "static-hash-v1"
}

// Available always reports true; the hash embedder has no dependencies.
func (e *StaticEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close marks the embedder closed.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
