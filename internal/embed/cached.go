package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default number of embeddings kept in memory.
const DefaultCacheSize = 1000

// Cached wraps an Embedder with LRU caching so repeated texts (query
// strings, unchanged chunks) skip recomputation.
type Cached struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

// NewCached creates a cached embedder wrapping inner.
func NewCached(inner Embedder, cacheSize int) *Cached {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &Cached{inner: inner, cache: cache}
}

// cacheKey keys on text plus model identity so swapping models never
// serves stale vectors.
func (c *Cached) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text + "\x00" + c.inner.ModelName()))
	return hex.EncodeToString(sum[:])
}

// Embed returns the cached embedding when available.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedBatch checks the cache per text and batch-embeds only the misses,
// preserving input order in the result.
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		if vec, ok := c.cache.Get(c.cacheKey(text)); ok {
			results[i] = vec
		} else {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, text)
		}
	}
	if len(missTexts) == 0 {
		return results, nil
	}

	embedded, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		results[i] = embedded[j]
		c.cache.Add(c.cacheKey(texts[i]), embedded[j])
	}
	return results, nil
}

// Dimensions returns the embedding dimension.
func (c *Cached) Dimensions() int { return c.inner.Dimensions() }

// ModelName returns the model identifier.
func (c *Cached) ModelName() string { return c.inner.ModelName() }

// Close closes the inner embedder.
func (c *Cached) Close() error { return c.inner.Close() }
