package memory

import (
	"log"
	"sort"
	"time"
)

// Pattern is a recurring behavior keyed by a caller-supplied signature.
type Pattern struct {
	Signature   string    `json:"signature"`
	Confidence  float64   `json:"confidence"`
	Occurrences int       `json:"occurrences"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

// SemanticConfig configures the fact/pattern tier.
type SemanticConfig struct {
	// MaxFacts caps the fact count. Default: 5000.
	MaxFacts int

	// MinConfidence is the admission floor for facts. Default: 0.5.
	MinConfidence float64

	// DecayRate multiplies every fact's confidence when the tier hits
	// capacity. Default: 0.99.
	DecayRate float64
}

func (c *SemanticConfig) withDefaults() SemanticConfig {
	out := SemanticConfig{MaxFacts: 5000, MinConfidence: 0.5, DecayRate: 0.99}
	if c == nil {
		return out
	}
	if c.MaxFacts > 0 {
		out.MaxFacts = c.MaxFacts
	}
	if c.MinConfidence > 0 {
		out.MinConfidence = c.MinConfidence
	}
	if c.DecayRate > 0 {
		out.DecayRate = c.DecayRate
	}
	return out
}

// SemanticTier stores facts and patterns. Facts below the confidence floor
// are rejected on admission; facts sharing a tag are linked symmetrically;
// capacity pressure decays every fact's confidence and evicts the ones that
// fall below half the floor.
type SemanticTier struct {
	cfg   SemanticConfig
	clock Clock

	facts map[string]*Item
	order []string // fact ids in insertion order, for deterministic scans

	// associations holds the symmetric tag-sharing graph: if two facts
	// share a tag, each appears in the other's edge set.
	associations map[string]map[string]bool

	patterns map[string]*Pattern

	seq   uint64
	stats TierStats
}

// NewSemanticTier creates a semantic tier. A nil config uses defaults.
func NewSemanticTier(cfg *SemanticConfig, clock Clock) *SemanticTier {
	if clock == nil {
		clock = SystemClock()
	}
	return &SemanticTier{
		cfg:          cfg.withDefaults(),
		clock:        clock,
		facts:        make(map[string]*Item),
		associations: make(map[string]map[string]bool),
		patterns:     make(map[string]*Pattern),
	}
}

// StoreFact admits a fact, or returns nil when its confidence is below the
// floor. Rejection is not an error: the caller gets nil and the rejected
// counter increments.
func (t *SemanticTier) StoreFact(item *Item) *Item {
	if item.Confidence < t.cfg.MinConfidence {
		t.stats.Rejected++
		log.Printf("[MEMORY] Fact rejected: confidence %.2f below floor %.2f",
			item.Confidence, t.cfg.MinConfidence)
		return nil
	}

	if len(t.facts) >= t.cfg.MaxFacts {
		t.decay()
	}

	t.seq++
	item.stamp(TierSemantic, t.clock.Now(), t.seq)
	t.facts[item.ID] = item
	t.order = append(t.order, item.ID)
	t.associate(item)
	t.stats.Stored++
	return item
}

// associate links the new fact to every stored fact sharing one of its
// tags, in both directions. O(fact count) per store; callers needing scale
// must externalize indexing.
func (t *SemanticTier) associate(item *Item) {
	for _, tag := range item.Tags {
		for _, id := range t.order {
			if id == item.ID {
				continue
			}
			other, ok := t.facts[id]
			if !ok || !other.HasTag(tag) {
				continue
			}
			t.link(item.ID, id)
			t.link(id, item.ID)
		}
	}
}

func (t *SemanticTier) link(from, to string) {
	edges := t.associations[from]
	if edges == nil {
		edges = make(map[string]bool)
		t.associations[from] = edges
	}
	edges[to] = true
}

// StorePattern upserts a pattern by signature. On collision the confidence
// becomes the mean of old and new, the occurrence counter increments, and
// the last-seen timestamp updates.
func (t *SemanticTier) StorePattern(signature string, confidence float64) *Pattern {
	now := t.clock.Now()
	if p, ok := t.patterns[signature]; ok {
		p.Confidence = (p.Confidence + confidence) / 2
		p.Occurrences++
		p.LastSeen = now
		return p
	}
	p := &Pattern{
		Signature:   signature,
		Confidence:  confidence,
		Occurrences: 1,
		FirstSeen:   now,
		LastSeen:    now,
	}
	t.patterns[signature] = p
	t.stats.Stored++
	return p
}

// Pattern returns the pattern with the given signature, or nil.
func (t *SemanticTier) Pattern(signature string) *Pattern {
	return t.patterns[signature]
}

// ActivePatterns returns patterns seen more than minOccurrences times, in
// signature-stable order.
func (t *SemanticTier) ActivePatterns(minOccurrences int) []*Pattern {
	sigs := make([]string, 0, len(t.patterns))
	for sig, p := range t.patterns {
		if p.Occurrences > minOccurrences {
			sigs = append(sigs, sig)
		}
	}
	sort.Strings(sigs)
	out := make([]*Pattern, len(sigs))
	for i, sig := range sigs {
		out[i] = t.patterns[sig]
	}
	return out
}

// FactQuery filters facts by kind, required tags, and a confidence floor.
type FactQuery struct {
	// Kind, when non-empty, must equal the fact's kind.
	Kind string

	// Tags must all be present on the fact.
	Tags []string

	// MinConfidence, when > 0, is the result confidence floor.
	MinConfidence float64
}

// QueryFacts returns matching facts in insertion order. Every returned
// fact has its access recorded.
func (t *SemanticTier) QueryFacts(q FactQuery) []*Item {
	var out []*Item
	now := t.clock.Now()
	for _, id := range t.order {
		fact, ok := t.facts[id]
		if !ok {
			continue
		}
		if q.Kind != "" && fact.Kind != q.Kind {
			continue
		}
		if fact.Confidence < q.MinConfidence {
			continue
		}
		if !hasAllTags(fact, q.Tags) {
			continue
		}
		fact.Touch(now)
		out = append(out, fact)
	}
	t.stats.Retrieved += len(out)
	return out
}

func hasAllTags(it *Item, tags []string) bool {
	for _, tag := range tags {
		if !it.HasTag(tag) {
			return false
		}
	}
	return true
}

// GetRelated returns facts linked to the given fact through shared tags,
// in insertion order, truncated to limit. Accesses are recorded.
func (t *SemanticTier) GetRelated(id string, limit int) []*Item {
	edges := t.associations[id]
	if len(edges) == 0 {
		return nil
	}

	var out []*Item
	now := t.clock.Now()
	for _, otherID := range t.order {
		if !edges[otherID] {
			continue
		}
		fact, ok := t.facts[otherID]
		if !ok {
			continue
		}
		fact.Touch(now)
		out = append(out, fact)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	t.stats.Retrieved += len(out)
	return out
}

// Get returns the fact with the given id, or nil.
func (t *SemanticTier) Get(id string) *Item {
	return t.facts[id]
}

// Remove deletes and returns the fact with the given id along with its
// association entries, or nil. Used by the manager on tier transfer.
func (t *SemanticTier) Remove(id string) *Item {
	fact, ok := t.facts[id]
	if !ok {
		return nil
	}
	t.unlink(id)
	delete(t.facts, id)
	for i, fid := range t.order {
		if fid == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return fact
}

func (t *SemanticTier) unlink(id string) {
	for other := range t.associations[id] {
		delete(t.associations[other], id)
	}
	delete(t.associations, id)
}

// decay multiplies every fact's confidence by the decay rate and evicts
// facts falling below half the admission floor. If that frees nothing and
// the tier is still at capacity, the lowest-importance facts go until the
// bound holds.
func (t *SemanticTier) decay() {
	floor := t.cfg.MinConfidence * 0.5
	var evicted int
	for _, id := range append([]string(nil), t.order...) {
		fact, ok := t.facts[id]
		if !ok {
			continue
		}
		fact.Confidence *= t.cfg.DecayRate
		if fact.Confidence < floor {
			t.Remove(id)
			evicted++
		}
	}

	// Decay alone may not free space; enforce the bound regardless.
	if len(t.facts) >= t.cfg.MaxFacts {
		now := t.clock.Now()
		ranked := make([]string, len(t.order))
		copy(ranked, t.order)
		sort.SliceStable(ranked, func(i, j int) bool {
			return t.facts[ranked[i]].Importance(now) < t.facts[ranked[j]].Importance(now)
		})
		for _, id := range ranked {
			if len(t.facts) < t.cfg.MaxFacts {
				break
			}
			t.Remove(id)
			evicted++
		}
	}

	t.stats.Evicted += evicted
	if evicted > 0 {
		log.Printf("[MEMORY] Semantic tier at capacity: decayed confidence, evicted %d facts", evicted)
	}
}

// Size returns the current fact count.
func (t *SemanticTier) Size() int { return len(t.facts) }

// Stats returns the tier's counters.
func (t *SemanticTier) Stats() TierStats {
	s := t.stats
	s.Size = len(t.facts)
	return s
}
