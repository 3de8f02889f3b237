// Package embed converts message text to fixed-dimensional vectors for
// similarity search. The provider is an external capability: calls are
// bounded by the caller's context and may fail with the core provider
// errors.
package embed

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// Embedder converts a single text to its embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size, fixed per deployment.
	Dimensions() int
}

// Cached memoizes embeddings by exact text. At-least-once redelivery and
// edits back to earlier text skip the provider round-trip entirely.
type Cached struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCached wraps inner with a ristretto cache costed by vector bytes.
func NewCached(inner Embedder, maxBytes int64) (*Cached, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxBytes / 64, // rough keys-tracked estimate
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v.([]float32), nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, vec, int64(len(vec)*4))
	return vec, nil
}

func (c *Cached) Dimensions() int { return c.inner.Dimensions() }

// Wait blocks until buffered cache writes are applied. Tests use it to make
// hit/miss behavior deterministic.
func (c *Cached) Wait() { c.cache.Wait() }
