// Package mock provides a deterministic embedder for tests and demos.
package mock

import (
	"context"
	"hash/fnv"
	"math"
)

// Embedder generates deterministic embeddings from a text hash. The
// vectors carry no real semantics, but identical texts always embed
// identically, which is enough for routing, dimension, and plumbing tests.
type Embedder struct {
	dimensions int
	fixed      map[string][]float32
}

// New creates a mock embedder with the given dimensions (384 when <= 0,
// matching all-MiniLM-L6-v2).
func New(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &Embedder{
		dimensions: dimensions,
		fixed:      make(map[string][]float32),
	}
}

// Fix pins the embedding returned for a specific text. Tests use this to
// construct known similarity orderings.
func (m *Embedder) Fix(text string, embedding []float32) {
	m.fixed[text] = embedding
}

// Embed creates a deterministic unit vector from the text's FNV hash.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if emb, ok := m.fixed[text]; ok {
		return emb, nil
	}

	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	embedding := make([]float32, m.dimensions)
	for i := 0; i < m.dimensions; i++ {
		// Linear congruential step per component.
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(embedding), nil
}

// EmbedBatch embeds each text independently.
func (m *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = emb
	}
	return out, nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}

// normalize converts the embedding to a unit vector.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}
