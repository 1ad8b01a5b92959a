// Package cache wraps an Embedder with a content-hash embedding cache.
//
// Embedding the same text twice is common when items cycle through the
// promotion chain; caching keeps the collaborator call count down without
// the memory tiers knowing anything about it.
package cache

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/liminalworks/tiermem/memory"
)

// Embedder decorates another Embedder with a ristretto cache keyed by the
// SHA-256 of the text.
type Embedder struct {
	inner memory.Embedder
	cache *ristretto.Cache
}

// Config tunes the cache.
type Config struct {
	// MaxEntries caps how many embeddings are retained. Default: 4096.
	MaxEntries int64
}

// New creates a caching decorator around the given embedder.
func New(inner memory.Embedder, cfg *Config) (*Embedder, error) {
	maxEntries := int64(4096)
	if cfg != nil && cfg.MaxEntries > 0 {
		maxEntries = cfg.MaxEntries
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	return &Embedder{inner: inner, cache: cache}, nil
}

// Embed returns the cached embedding for text, falling through to the
// wrapped embedder on a miss.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := contentHash(text)
	if cached, ok := e.cache.Get(key); ok {
		return cached.([]float32), nil
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Set(key, vec, 1)
	return vec, nil
}

// EmbedBatch embeds all texts, serving cached entries and batching only
// the misses through the wrapped embedder.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		if cached, ok := e.cache.Get(contentHash(text)); ok {
			out[i] = cached.([]float32)
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) > 0 {
		vecs, err := e.inner.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, vec := range vecs {
			out[missIdx[j]] = vec
			e.cache.Set(contentHash(missTexts[j]), vec, 1)
		}
	}
	return out, nil
}

// Dimensions returns the wrapped embedder's dimensions.
func (e *Embedder) Dimensions() int {
	return e.inner.Dimensions()
}

// Wait blocks until buffered cache writes are applied. Tests call this
// before asserting on hit behavior.
func (e *Embedder) Wait() {
	e.cache.Wait()
}

// Close releases the cache.
func (e *Embedder) Close() {
	e.cache.Close()
}

// contentHash computes the SHA-256 cache key for a text.
func contentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", h)
}
