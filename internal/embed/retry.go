package embed

import (
	"context"
	"sync/atomic"
	"time"
)

// RetryConfig configures retry behavior for embedding batches.
type RetryConfig struct {
	MaxRetries   int           // retry attempts after the initial one
	InitialDelay time.Duration // delay before first retry
	MaxDelay     time.Duration // cap on the backoff delay
	Multiplier   float64       // exponential backoff multiplier
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
	}
}

// Retrying wraps an Embedder with bounded exponential-backoff retries.
// Because embedders are deterministic, a retried batch yields the same
// vectors as an uninterrupted one. Exhausted retries are counted so the
// pipeline can report failed embeddings.
type Retrying struct {
	inner  Embedder
	cfg    RetryConfig
	failed atomic.Int64
}

// NewRetrying creates a retrying embedder wrapping inner.
func NewRetrying(inner Embedder, cfg RetryConfig) *Retrying {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = 2.0
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 500 * time.Millisecond
	}
	return &Retrying{inner: inner, cfg: cfg}
}

// FailedCount returns how many embedding calls exhausted their retries.
func (r *Retrying) FailedCount() int64 {
	return r.failed.Load()
}

// ResetFailedCount zeroes the failure counter at the start of a run.
func (r *Retrying) ResetFailedCount() {
	r.failed.Store(0)
}

func (r *Retrying) withRetry(ctx context.Context, fn func() error) error {
	delay := r.cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if attempt >= r.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * r.cfg.Multiplier)
		if delay > r.cfg.MaxDelay {
			delay = r.cfg.MaxDelay
		}
	}

	r.failed.Add(1)
	return lastErr
}

// Embed generates the embedding for a single text with retries.
func (r *Retrying) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := r.withRetry(ctx, func() error {
		var innerErr error
		vec, innerErr = r.inner.Embed(ctx, text)
		return innerErr
	})
	return vec, err
}

// EmbedBatch generates embeddings for multiple texts with retries.
func (r *Retrying) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vecs [][]float32
	err := r.withRetry(ctx, func() error {
		var innerErr error
		vecs, innerErr = r.inner.EmbedBatch(ctx, texts)
		return innerErr
	})
	return vecs, err
}

// Dimensions returns the embedding dimension.
func (r *Retrying) Dimensions() int { return r.inner.Dimensions() }

// ModelName returns the model identifier.
func (r *Retrying) ModelName() string { return r.inner.ModelName() }

// Close closes the inner embedder.
func (r *Retrying) Close() error { return r.inner.Close() }
