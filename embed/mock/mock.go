// Package mock provides a deterministic embedder for tests and for running
// the bot without an embedding provider configured. Vectors are hash-seeded,
// so identical text always maps to the identical unit vector, but there is no
// real semantic similarity.
package mock

import (
	"context"
	"hash/fnv"
	"math"
)

type Embedder struct {
	dims int
}

// New creates a mock embedder producing dims-sized unit vectors.
func New(dims int) *Embedder {
	return &Embedder{dims: dims}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, e.dims)
	for i := range vec {
		// LCG advance from the text hash keeps the output deterministic.
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	normalize(vec)
	return vec, nil
}

func (e *Embedder) Dimensions() int { return e.dims }

func normalize(vec []float32) {
	var sum float32
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(float64(sum)))
	for i := range vec {
		vec[i] /= norm
	}
}
