package memory

import (
	"log"
	"math"
	"sort"
)

// VectorConfig configures the similarity tier.
type VectorConfig struct {
	// MaxItems caps the tier size. Default: 10000.
	MaxItems int

	// Threshold is the default minimum similarity for Search results.
	// Default: 0.7.
	Threshold float64
}

func (c *VectorConfig) withDefaults() VectorConfig {
	out := VectorConfig{MaxItems: 10000, Threshold: 0.7}
	if c == nil {
		return out
	}
	if c.MaxItems > 0 {
		out.MaxItems = c.MaxItems
	}
	if c.Threshold > 0 {
		out.Threshold = c.Threshold
	}
	return out
}

// VectorTier is the similarity-indexed store. Retrieval is by cosine
// similarity against a query vector; eviction drops the lowest-importance
// decile whenever a store hits the capacity bound.
type VectorTier struct {
	cfg   VectorConfig
	clock Clock
	items []*Item
	dims  int // established by the first stored embedding
	seq   uint64
	stats TierStats
}

// NewVectorTier creates a vector tier. A nil config uses defaults.
func NewVectorTier(cfg *VectorConfig, clock Clock) *VectorTier {
	if clock == nil {
		clock = SystemClock()
	}
	return &VectorTier{cfg: cfg.withDefaults(), clock: clock}
}

// Store inserts an item with its embedding. The first stored embedding
// fixes the tier's dimensions; later mismatches are rejected, never
// coerced. Eviction runs here, not during Search.
func (t *VectorTier) Store(item *Item, embedding []float32) (*Item, error) {
	if len(embedding) == 0 {
		return nil, &DimensionMismatchError{Want: t.dims, Got: 0}
	}
	if t.dims != 0 && len(embedding) != t.dims {
		return nil, &DimensionMismatchError{Want: t.dims, Got: len(embedding)}
	}
	if t.dims == 0 {
		t.dims = len(embedding)
	}

	if len(t.items) >= t.cfg.MaxItems {
		t.evictLowestDecile()
	}

	t.seq++
	item.stamp(TierVector, t.clock.Now(), t.seq)
	item.Embedding = embedding
	t.items = append(t.items, item)
	t.stats.Stored++
	return item, nil
}

// SearchResult pairs an item with its similarity to the query.
type SearchResult struct {
	Item       *Item
	Similarity float64
}

// SearchOptions tunes a single Search call.
type SearchOptions struct {
	// Limit caps the result count. Default: 10.
	Limit int

	// Threshold overrides the configured minimum similarity when > 0.
	Threshold float64
}

// Search returns items with similarity >= threshold, sorted descending and
// truncated to the limit. Every returned item has its access recorded.
func (t *VectorTier) Search(query []float32, opts *SearchOptions) ([]SearchResult, error) {
	if t.dims != 0 && len(query) != t.dims {
		return nil, &DimensionMismatchError{Want: t.dims, Got: len(query)}
	}

	limit := 10
	threshold := t.cfg.Threshold
	if opts != nil {
		if opts.Limit > 0 {
			limit = opts.Limit
		}
		if opts.Threshold > 0 {
			threshold = opts.Threshold
		}
	}

	var results []SearchResult
	for _, it := range t.items {
		sim := cosine(query, it.Embedding)
		if sim >= threshold {
			results = append(results, SearchResult{Item: it, Similarity: sim})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Item.seq < results[j].Item.seq
	})
	if len(results) > limit {
		results = results[:limit]
	}

	now := t.clock.Now()
	for _, r := range results {
		r.Item.Touch(now)
	}
	t.stats.Retrieved += len(results)
	return results, nil
}

// Get returns the stored item with the given id, or nil.
func (t *VectorTier) Get(id string) *Item {
	for _, it := range t.items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

// Remove deletes and returns the item with the given id, or nil.
// Used by the manager when an item moves to another tier.
func (t *VectorTier) Remove(id string) *Item {
	for i, it := range t.items {
		if it.ID == id {
			t.items = append(t.items[:i], t.items[i+1:]...)
			return it
		}
	}
	return nil
}

// Size returns the current item count.
func (t *VectorTier) Size() int { return len(t.items) }

// Stats returns the tier's counters.
func (t *VectorTier) Stats() TierStats {
	s := t.stats
	s.Size = len(t.items)
	return s
}

// evictLowestDecile recomputes importance for every item and drops the
// lowest 10% (ceiling). Ties break by insertion sequence.
func (t *VectorTier) evictLowestDecile() {
	n := (len(t.items) + 9) / 10
	if n == 0 {
		n = 1
	}

	now := t.clock.Now()
	ranked := make([]*Item, len(t.items))
	copy(ranked, t.items)
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := ranked[i].Importance(now), ranked[j].Importance(now)
		if si != sj {
			return si < sj
		}
		return ranked[i].seq < ranked[j].seq
	})

	drop := make(map[string]bool, n)
	for _, it := range ranked[:n] {
		drop[it.ID] = true
	}

	kept := t.items[:0]
	for _, it := range t.items {
		if !drop[it.ID] {
			kept = append(kept, it)
		}
	}
	t.items = kept
	t.stats.Evicted += n
	log.Printf("[MEMORY] Vector tier at capacity: evicted %d low-importance items", n)
}

// cosine computes cosine similarity. Callers guarantee equal lengths; a
// zero-norm vector yields 0.
func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// CosineSimilarity computes cosine similarity between two vectors of equal
// length. Mismatched dimensions are an error; a zero-norm vector yields 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, &DimensionMismatchError{Want: len(a), Got: len(b)}
	}
	return cosine(a, b), nil
}
