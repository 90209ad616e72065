package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEmbeddingCacheSize is the default LRU capacity. At 768 dims x
// 4 bytes x 1000 entries this is roughly 3MB.
const DefaultEmbeddingCacheSize = 1000

// CachedEmbedder wraps a DenseEmbedder with an LRU cache keyed by text and
// model, so repeated content (unchanged chunks, repeated queries) skips the
// provider round trip.
type CachedEmbedder struct {
	inner DenseEmbedder
	cache *lru.Cache[string, []float32]
}

var _ DenseEmbedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps inner with a cache of the given capacity.
func NewCachedEmbedder(inner DenseEmbedder, cacheSize int) *CachedEmbedder {
	if cacheSize <= 0 {
		cacheSize = DefaultEmbeddingCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &CachedEmbedder{
		inner: inner,
		cache: cache,
	}
}

// cacheKey includes the model name so switching models never serves stale
// vectors.
func (c *CachedEmbedder) cacheKey(text string) string {
	hash := sha256.Sum256([]byte(text + "\x00" + c.inner.ModelName()))
	return hex.EncodeToString(hash[:])
}

// EmbedDense serves cached vectors where possible and embeds only the
// misses, in one batch.
func (c *CachedEmbedder) EmbedDense(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, len(texts))
	var misses []int
	for i, text := range texts {
		if vec, ok := c.cache.Get(c.cacheKey(text)); ok {
			out[i] = vec
			continue
		}
		misses = append(misses, i)
	}
	if len(misses) == 0 {
		return out, nil
	}

	batch := make([]string, len(misses))
	for j, idx := range misses {
		batch[j] = texts[idx]
	}
	fresh, err := c.inner.EmbedDense(ctx, batch)
	if err != nil {
		return nil, err
	}
	for j, idx := range misses {
		out[idx] = fresh[j]
		c.cache.Add(c.cacheKey(texts[idx]), fresh[j])
	}
	return out, nil
}

// The remaining DenseEmbedder methods delegate to the wrapped embedder.

func (c *CachedEmbedder) Dimensions() int                    { return c.inner.Dimensions() }
func (c *CachedEmbedder) ModelName() string                  { return c.inner.ModelName() }
func (c *CachedEmbedder) Available(ctx context.Context) bool { return c.inner.Available(ctx) }
func (c *CachedEmbedder) Close() error                       { return c.inner.Close() }

// Inner returns the wrapped embedder.
func (c *CachedEmbedder) Inner() DenseEmbedder { return c.inner }
