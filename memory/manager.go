package memory

import (
	"context"
	"fmt"
	"log"
)

// Config bundles per-tier configuration for the manager.
type Config struct {
	Working  WorkingConfig
	Semantic SemanticConfig
	Episodic EpisodicConfig
	Vector   VectorConfig
}

// Manager routes items to tiers, answers unified queries, and moves items
// along the working -> semantic -> vector promotion chain. The episodic
// tier sits outside both the Get probe order and the promotion chain:
// episodes are retrieved by similarity, never by id.
type Manager struct {
	working  *WorkingTier
	semantic *SemanticTier
	episodic *EpisodicTier
	vector   *VectorTier

	embedder Embedder    // optional
	persist  Persistence // optional
	clock    Clock

	stats ManagerStats
}

// Option configures the manager.
type Option func(*Manager)

// WithEmbedder supplies the embedding collaborator. Without one, items
// routed to the vector tier must carry their own embedding.
func WithEmbedder(e Embedder) Option {
	return func(m *Manager) { m.embedder = e }
}

// WithPersistence supplies the optional durable sink. Saves are
// fire-and-forget: the manager never blocks store or query on them.
func WithPersistence(p Persistence) Option {
	return func(m *Manager) { m.persist = p }
}

// WithClock overrides the time source for all tiers.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// NewManager creates a manager with its four tiers. A nil config uses
// defaults throughout.
func NewManager(cfg *Config, opts ...Option) *Manager {
	m := &Manager{clock: SystemClock()}
	for _, opt := range opts {
		opt(m)
	}

	var wc *WorkingConfig
	var sc *SemanticConfig
	var ec *EpisodicConfig
	var vc *VectorConfig
	if cfg != nil {
		wc, sc, ec, vc = &cfg.Working, &cfg.Semantic, &cfg.Episodic, &cfg.Vector
	}
	m.working = NewWorkingTier(wc, m.clock)
	m.semantic = NewSemanticTier(sc, m.clock)
	m.episodic = NewEpisodicTier(ec, m.clock)
	m.vector = NewVectorTier(vc, m.clock)
	return m
}

// Working returns the working tier for direct use (focus slot, clear).
func (m *Manager) Working() *WorkingTier { return m.working }

// Semantic returns the semantic tier for direct use (patterns, relations).
func (m *Manager) Semantic() *SemanticTier { return m.semantic }

// Episodic returns the episodic tier for direct use (episode lifecycle).
func (m *Manager) Episodic() *EpisodicTier { return m.episodic }

// Vector returns the vector tier for direct use.
func (m *Manager) Vector() *VectorTier { return m.vector }

// StoreOptions overrides routing for a single Store call.
type StoreOptions struct {
	// Tier forces the destination. Unknown names are a validation error.
	Tier TierName

	// Embedding accompanies the item into the vector tier.
	Embedding []float32
}

// Store routes the item to a tier and stores it. Without an explicit tier
// the first matching rule wins:
//
//	kind fact|pattern        -> semantic
//	embedding present        -> vector
//	kind event|interaction   -> episodic
//	otherwise                -> working
//
// A nil item result with nil error means the tier rejected the item
// (e.g. a fact below the confidence floor).
func (m *Manager) Store(ctx context.Context, item *Item, opts *StoreOptions) (*Item, error) {
	var embedding []float32
	tier := TierName("")
	if opts != nil {
		tier = opts.Tier
		embedding = opts.Embedding
	}
	if embedding == nil {
		embedding = item.Embedding
	}

	if tier == "" {
		tier = routeItem(item, embedding)
	} else if !knownTier(tier) {
		return nil, &UnknownTierError{Tier: tier}
	}

	stored, err := m.storeToTier(ctx, item, tier, embedding)
	if err != nil || stored == nil {
		return stored, err
	}
	m.stats.Stored++

	if m.persist != nil {
		m.persistItem(stored)
	}
	return stored, nil
}

func knownTier(t TierName) bool {
	switch t {
	case TierWorking, TierSemantic, TierEpisodic, TierVector:
		return true
	}
	return false
}

// routeItem is the first-match routing decision list, in fixed order.
func routeItem(item *Item, embedding []float32) TierName {
	switch item.Kind {
	case "fact", "pattern":
		return TierSemantic
	}
	if len(embedding) > 0 {
		return TierVector
	}
	switch item.Kind {
	case "event", "interaction":
		return TierEpisodic
	}
	return TierWorking
}

func (m *Manager) storeToTier(ctx context.Context, item *Item, tier TierName, embedding []float32) (*Item, error) {
	switch tier {
	case TierSemantic:
		if item.Kind == "pattern" {
			m.semantic.StorePattern(patternSignature(item), item.Confidence)
			item.Tier = TierSemantic
			return item, nil
		}
		return m.semantic.StoreFact(item), nil

	case TierVector:
		if len(embedding) == 0 {
			embedding = m.embedText(ctx, item)
		}
		if len(embedding) == 0 {
			// Degraded: store proceeds without an embedding.
			log.Printf("[MEMORY] No embedding available for %s: storing to working tier", item.ID)
			return m.working.Add(item), nil
		}
		return m.vector.Store(item, embedding)

	case TierEpisodic:
		important, _ := item.Metadata["important"].(bool)
		m.episodic.AddEvent(Event{
			Kind:      item.Kind,
			Payload:   item.Content,
			Important: important,
		})
		item.Tier = TierEpisodic
		return item, nil

	default:
		return m.working.Add(item), nil
	}
}

// patternSignature derives the upsert key for a pattern item: an explicit
// signature in metadata, else the content when it is a string, else the id.
func patternSignature(item *Item) string {
	if sig, ok := item.Metadata["signature"].(string); ok && sig != "" {
		return sig
	}
	if s, ok := item.Content.(string); ok && s != "" {
		return s
	}
	return item.ID
}

// embedText obtains an embedding from the collaborator for string content.
// Collaborator failure degrades to no embedding, never to an error.
func (m *Manager) embedText(ctx context.Context, item *Item) []float32 {
	if m.embedder == nil {
		return nil
	}
	text, ok := item.Content.(string)
	if !ok || text == "" {
		return nil
	}
	embedding, err := m.embedder.Embed(ctx, text)
	if err != nil {
		log.Printf("[MEMORY] Embedder failed for %s: %v", item.ID, err)
		return nil
	}
	return embedding
}

// persistItem hands a copy to the persistence collaborator without
// blocking the caller. Failures are logged and swallowed.
func (m *Manager) persistItem(item *Item) {
	snapshot := *item
	go func() {
		if err := m.persist.SaveItem(context.Background(), &snapshot); err != nil {
			log.Printf("[MEMORY] Persistence failed for item %s: %v", snapshot.ID, err)
		}
	}()
}

// EndEpisode closes the open episode and persists it when a collaborator
// is configured.
func (m *Manager) EndEpisode(outcome string) *Episode {
	ep := m.episodic.EndEpisode(outcome)
	if ep != nil && m.persist != nil {
		snapshot := *ep
		go func() {
			if err := m.persist.SaveEpisode(context.Background(), &snapshot); err != nil {
				log.Printf("[MEMORY] Persistence failed for episode %s: %v", snapshot.ID, err)
			}
		}()
	}
	return ep
}

// QueryParams drives the fan-out query.
type QueryParams struct {
	// Kind filters working items and semantic facts.
	Kind string

	// Tags filter semantic facts (all must be present).
	Tags []string

	// MinConfidence floors semantic results.
	MinConfidence float64

	// Limit caps episodic and vector sub-results.
	Limit int

	// EpisodeContext, when set, enables the episodic sub-query.
	EpisodeContext *EpisodeContext

	// Embedding, when set, enables the vector sub-query.
	Embedding []float32
}

// QueryResults holds one independent sub-result per tier.
type QueryResults struct {
	Working  []*Item
	Semantic []*Item
	Episodic []EpisodeMatch
	Vector   []SearchResult
}

// Query fans out to every tier. Sub-results are independent: a failure in
// one tier (a mismatched query embedding, say) leaves that slice empty and
// never blocks the others.
func (m *Manager) Query(ctx context.Context, p QueryParams) *QueryResults {
	out := &QueryResults{}

	if p.Kind != "" {
		out.Working = m.working.GetByKind(p.Kind)
	} else {
		out.Working = m.working.GetAll()
	}

	out.Semantic = m.semantic.QueryFacts(FactQuery{
		Kind:          p.Kind,
		Tags:          p.Tags,
		MinConfidence: p.MinConfidence,
	})

	if p.EpisodeContext != nil {
		out.Episodic = m.episodic.FindSimilar(*p.EpisodeContext, p.Limit)
	}

	if len(p.Embedding) > 0 {
		results, err := m.vector.Search(p.Embedding, &SearchOptions{Limit: p.Limit})
		if err != nil {
			log.Printf("[MEMORY] Vector search failed: %v", err)
		} else {
			out.Vector = results
		}
	}

	m.stats.Retrieved += len(out.Working) + len(out.Semantic) + len(out.Episodic) + len(out.Vector)
	return out
}

// Get probes working, then semantic, then vector, returning the first hit
// with its access recorded. The episodic tier is deliberately not probed:
// episodes have no id-based retrieval path.
func (m *Manager) Get(id string) *Item {
	if it := m.working.Access(id); it != nil {
		return it
	}
	if it := m.semantic.Get(id); it != nil {
		it.Touch(m.clock.Now())
		return it
	}
	if it := m.vector.Get(id); it != nil {
		it.Touch(m.clock.Now())
		return it
	}
	return nil
}

// promotionChain is the fixed tier order promote/demote operate over.
// Episodic is excluded.
var promotionChain = []TierName{TierWorking, TierSemantic, TierVector}

// Promote moves the item one step toward the vector tier. At the end of
// the chain, or for items outside it, the call is a counted no-op.
func (m *Manager) Promote(ctx context.Context, item *Item) (*Item, error) {
	switch item.Tier {
	case TierWorking:
		m.working.Remove(item.ID)
		stored := m.semantic.StoreFact(item)
		if stored == nil {
			// Rejected by the confidence floor; put it back rather than
			// losing it. A re-insert is not a new store.
			m.working.Add(item)
			m.working.stats.Stored--
			m.stats.PromotionNoops++
			return nil, nil
		}
		m.stats.Promotions++
		return stored, nil

	case TierSemantic:
		embedding := item.Embedding
		if len(embedding) == 0 {
			embedding = m.embedText(ctx, item)
		}
		if len(embedding) == 0 {
			m.stats.PromotionNoops++
			return nil, nil
		}
		// Store first, remove second: a failed store must leave the item
		// where it was.
		stored, err := m.vector.Store(item, embedding)
		if err != nil {
			return nil, fmt.Errorf("promote to vector: %w", err)
		}
		m.semantic.Remove(item.ID)
		m.stats.Promotions++
		return stored, nil

	default:
		m.stats.PromotionNoops++
		return nil, nil
	}
}

// Demote moves the item one step toward the working tier. At the start of
// the chain, or for items outside it, the call is a counted no-op.
func (m *Manager) Demote(ctx context.Context, item *Item) (*Item, error) {
	switch item.Tier {
	case TierVector:
		m.vector.Remove(item.ID)
		stored := m.semantic.StoreFact(item)
		if stored == nil {
			// Rejected by the confidence floor; put it back rather than
			// losing it. A re-insert is not a new store.
			if _, err := m.vector.Store(item, item.Embedding); err != nil {
				log.Printf("[MEMORY] Failed to restore %s to vector tier: %v", item.ID, err)
			} else {
				m.vector.stats.Stored--
			}
			m.stats.DemotionNoops++
			return nil, nil
		}
		m.stats.Demotions++
		return stored, nil

	case TierSemantic:
		m.semantic.Remove(item.ID)
		stored := m.working.Add(item)
		m.stats.Demotions++
		return stored, nil

	default:
		m.stats.DemotionNoops++
		return nil, nil
	}
}

// GetStats returns manager counters plus per-tier stats.
func (m *Manager) GetStats() ManagerStats {
	s := m.stats
	s.Tiers = map[TierName]TierStats{
		TierWorking:  m.working.Stats(),
		TierSemantic: m.semantic.Stats(),
		TierEpisodic: m.episodic.Stats(),
		TierVector:   m.vector.Stats(),
	}
	return s
}

// Close releases the persistence collaborator, if any.
func (m *Manager) Close() error {
	if m.persist != nil {
		return m.persist.Close()
	}
	return nil
}
