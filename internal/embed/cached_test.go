package embed

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder records how many inner calls happen and can fail the
// first N of them.
type countingEmbedder struct {
	inner     Embedder
	calls     atomic.Int64
	failFirst int64
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.calls.Add(1) <= c.failFirst {
		return nil, errors.New("embed failed")
	}
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if c.calls.Add(1) <= c.failFirst {
		return nil, errors.New("embed failed")
	}
	return c.inner.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) Dimensions() int    { return c.inner.Dimensions() }
func (c *countingEmbedder) ModelName() string  { return c.inner.ModelName() }
func (c *countingEmbedder) Close() error       { return c.inner.Close() }

func TestCached_SecondLookupHitsCache(t *testing.T) {
	counting := &countingEmbedder{inner: NewStatic(64)}
	cached := NewCached(counting, 10)
	ctx := context.Background()

	first, err := cached.Embed(ctx, "query text")
	require.NoError(t, err)
	second, err := cached.Embed(ctx, "query text")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), counting.calls.Load())
}

func TestCached_BatchEmbedsOnlyMisses(t *testing.T) {
	counting := &countingEmbedder{inner: NewStatic(64)}
	cached := NewCached(counting, 10)
	ctx := context.Background()

	_, err := cached.Embed(ctx, "warm")
	require.NoError(t, err)

	vecs, err := cached.EmbedBatch(ctx, []string{"warm", "cold"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	for _, v := range vecs {
		assert.Len(t, v, 64)
	}
	// One call for the warm-up, one batch call for the single miss.
	assert.Equal(t, int64(2), counting.calls.Load())
}

func TestRetrying_CountsExhaustedFailures(t *testing.T) {
	counting := &countingEmbedder{inner: NewStatic(64), failFirst: 100}
	r := NewRetrying(counting, RetryConfig{MaxRetries: 2, InitialDelay: 1, MaxDelay: 2, Multiplier: 2})

	_, err := r.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, int64(3), counting.calls.Load(), "initial try plus two retries")
	assert.Equal(t, int64(1), r.FailedCount())

	r.ResetFailedCount()
	assert.Zero(t, r.FailedCount())
}

func TestRetrying_SucceedsAfterTransientFailure(t *testing.T) {
	counting := &countingEmbedder{inner: NewStatic(64), failFirst: 1}
	r := NewRetrying(counting, RetryConfig{MaxRetries: 3, InitialDelay: 1, MaxDelay: 2, Multiplier: 2})

	vecs, err := r.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Zero(t, r.FailedCount())
}
