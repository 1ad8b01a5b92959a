package memory_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/liminalworks/tiermem/memory"
	"github.com/liminalworks/tiermem/memory/embedder/mock"
)

// stubPersistence captures saves on channels so tests can observe the
// manager's fire-and-forget writes.
type stubPersistence struct {
	items    chan *memory.Item
	episodes chan *memory.Episode
	closed   bool
}

func newStubPersistence() *stubPersistence {
	return &stubPersistence{
		items:    make(chan *memory.Item, 8),
		episodes: make(chan *memory.Episode, 8),
	}
}

func (s *stubPersistence) SaveItem(ctx context.Context, item *memory.Item) error {
	s.items <- item
	return nil
}

func (s *stubPersistence) SaveEpisode(ctx context.Context, ep *memory.Episode) error {
	s.episodes <- ep
	return nil
}

func (s *stubPersistence) Close() error {
	s.closed = true
	return nil
}

// failingEmbedder always errors, for degraded-path tests.
type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("model unavailable")
}

func (failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("model unavailable")
}

func (failingEmbedder) Dimensions() int { return 0 }

func TestManager_RoutingRules(t *testing.T) {
	ctx := context.Background()
	m := memory.NewManager(nil, memory.WithClock(newFakeClock()))

	fact := memory.NewItem("fact", "the sky is blue")
	stored, err := m.Store(ctx, fact, nil)
	if err != nil {
		t.Fatalf("Store fact failed: %v", err)
	}
	if stored.Tier != memory.TierSemantic {
		t.Errorf("Expected fact routed to semantic, got %s", stored.Tier)
	}

	pattern := memory.NewItem("pattern", "retry-after-timeout")
	pattern.Confidence = 0.8
	if _, err := m.Store(ctx, pattern, nil); err != nil {
		t.Fatalf("Store pattern failed: %v", err)
	}
	if m.Semantic().Pattern("retry-after-timeout") == nil {
		t.Error("Expected pattern upserted by content signature")
	}

	embedded := memory.NewItem("generic", "embedded content")
	stored, err = m.Store(ctx, embedded, &memory.StoreOptions{Embedding: []float32{1, 0, 0}})
	if err != nil {
		t.Fatalf("Store with embedding failed: %v", err)
	}
	if stored.Tier != memory.TierVector {
		t.Errorf("Expected embedded item routed to vector, got %s", stored.Tier)
	}

	event := memory.NewItem("event", "user clicked")
	stored, err = m.Store(ctx, event, nil)
	if err != nil {
		t.Fatalf("Store event failed: %v", err)
	}
	if stored.Tier != memory.TierEpisodic {
		t.Errorf("Expected event routed to episodic, got %s", stored.Tier)
	}
	if ep := m.Episodic().Current(); ep == nil || len(ep.Events) != 1 {
		t.Error("Expected event appended to an auto-started episode")
	}

	note := memory.NewItem("note", "remember this")
	stored, err = m.Store(ctx, note, nil)
	if err != nil {
		t.Fatalf("Store note failed: %v", err)
	}
	if stored.Tier != memory.TierWorking {
		t.Errorf("Expected note to fall through to working, got %s", stored.Tier)
	}

	// A fact kind wins over a present embedding: routing is first-match.
	taggedFact := memory.NewItem("fact", "still a fact")
	stored, err = m.Store(ctx, taggedFact, &memory.StoreOptions{Embedding: []float32{0, 1, 0}})
	if err != nil {
		t.Fatalf("Store fact with embedding failed: %v", err)
	}
	if stored.Tier != memory.TierSemantic {
		t.Errorf("Expected fact kind to outrank embedding, got %s", stored.Tier)
	}
}

func TestManager_UnknownTier(t *testing.T) {
	m := memory.NewManager(nil)

	_, err := m.Store(context.Background(), memory.NewItem("note", "x"),
		&memory.StoreOptions{Tier: "archive"})

	var unknown *memory.UnknownTierError
	if !errors.As(err, &unknown) {
		t.Fatalf("Expected UnknownTierError, got %v", err)
	}
	if unknown.Tier != "archive" {
		t.Errorf("Unexpected tier in error: %s", unknown.Tier)
	}
}

func TestManager_RejectedFactIsNotAnError(t *testing.T) {
	m := memory.NewManager(nil)

	weak := memory.NewItem("fact", "probably wrong")
	weak.Confidence = 0.2
	stored, err := m.Store(context.Background(), weak, nil)
	if err != nil {
		t.Fatalf("Rejection must not surface as an error, got %v", err)
	}
	if stored != nil {
		t.Error("Expected nil item for a rejected fact")
	}
	if m.GetStats().Stored != 0 {
		t.Error("Rejected store should not count as stored")
	}
}

func TestManager_GetProbeOrder(t *testing.T) {
	ctx := context.Background()
	m := memory.NewManager(nil, memory.WithClock(newFakeClock()))

	note, _ := m.Store(ctx, memory.NewItem("note", "in working"), nil)
	fact, _ := m.Store(ctx, memory.NewItem("fact", "in semantic"), nil)
	vec, err := m.Store(ctx, memory.NewItem("generic", "in vector"),
		&memory.StoreOptions{Embedding: []float32{1, 0}})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	for _, it := range []*memory.Item{note, fact, vec} {
		got := m.Get(it.ID)
		if got == nil {
			t.Fatalf("Get(%s) returned nil for tier %s", it.ID, it.Tier)
		}
		if got.AccessCount != 1 {
			t.Errorf("Expected Get to record access on %s, count %d", it.Tier, got.AccessCount)
		}
	}

	if m.Get("no-such-id") != nil {
		t.Error("Expected nil for unknown id")
	}
}

func TestManager_PromoteChain(t *testing.T) {
	ctx := context.Background()
	m := memory.NewManager(nil,
		memory.WithClock(newFakeClock()),
		memory.WithEmbedder(mock.New(8)))

	item, _ := m.Store(ctx, memory.NewItem("note", "worth keeping"), nil)

	promoted, err := m.Promote(ctx, item)
	if err != nil {
		t.Fatalf("Promote to semantic failed: %v", err)
	}
	if promoted.Tier != memory.TierSemantic {
		t.Fatalf("Expected semantic after first promote, got %s", promoted.Tier)
	}
	if m.Working().Access(item.ID) != nil {
		t.Error("Promoted item should leave the working tier")
	}

	promoted, err = m.Promote(ctx, promoted)
	if err != nil {
		t.Fatalf("Promote to vector failed: %v", err)
	}
	if promoted.Tier != memory.TierVector {
		t.Fatalf("Expected vector after second promote, got %s", promoted.Tier)
	}
	if m.Semantic().Get(item.ID) != nil {
		t.Error("Promoted item should leave the semantic tier")
	}

	// Top of the chain: a counted no-op.
	top, err := m.Promote(ctx, promoted)
	if err != nil || top != nil {
		t.Fatalf("Expected nil no-op at chain top, got %v, %v", top, err)
	}

	stats := m.GetStats()
	if stats.Promotions != 2 {
		t.Errorf("Expected 2 promotions, got %d", stats.Promotions)
	}
	if stats.PromotionNoops != 1 {
		t.Errorf("Expected 1 promotion no-op, got %d", stats.PromotionNoops)
	}
}

func TestManager_PromoteRejectionKeepsItem(t *testing.T) {
	ctx := context.Background()
	m := memory.NewManager(nil, memory.WithClock(newFakeClock()))

	weak := memory.NewItem("note", "low confidence")
	weak.Confidence = 0.2
	m.Store(ctx, weak, nil)

	promoted, err := m.Promote(ctx, weak)
	if err != nil || promoted != nil {
		t.Fatalf("Expected counted no-op on rejection, got %v, %v", promoted, err)
	}
	if m.Working().Access(weak.ID) == nil {
		t.Error("Rejected promotion must leave the item in the working tier")
	}
	if m.GetStats().PromotionNoops != 1 {
		t.Error("Rejected promotion should count as a no-op")
	}
	if got := m.Working().Stats().Stored; got != 1 {
		t.Errorf("Re-insert must not count as a second store, got %d", got)
	}
}

func TestManager_FailedPromotionKeepsItem(t *testing.T) {
	ctx := context.Background()
	m := memory.NewManager(nil, memory.WithClock(newFakeClock()))

	// The anchor fixes the vector tier at 3 dimensions.
	if _, err := m.Store(ctx, memory.NewItem("generic", "anchor"),
		&memory.StoreOptions{Embedding: []float32{1, 0, 0}}); err != nil {
		t.Fatalf("Store anchor failed: %v", err)
	}

	fact := memory.NewItem("fact", "carries a stale embedding")
	fact.Embedding = []float32{1, 0}
	if _, err := m.Store(ctx, fact, nil); err != nil {
		t.Fatalf("Store fact failed: %v", err)
	}

	_, err := m.Promote(ctx, fact)
	var mismatch *memory.DimensionMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Expected DimensionMismatchError, got %v", err)
	}

	// The failed move must not lose the item: it stays in the semantic tier.
	if m.Semantic().Get(fact.ID) == nil {
		t.Error("Item missing from the semantic tier after failed promotion")
	}
	if m.Get(fact.ID) == nil {
		t.Error("Item unreachable after failed promotion")
	}
	if m.Vector().Get(fact.ID) != nil {
		t.Error("Item must not reach the vector tier on a failed store")
	}
	if m.GetStats().Promotions != 0 {
		t.Error("Failed promotion must not count as a promotion")
	}
}

func TestManager_DemoteRejectionRestoresVector(t *testing.T) {
	ctx := context.Background()
	m := memory.NewManager(nil, memory.WithClock(newFakeClock()))

	weak := memory.NewItem("generic", "dubious but vectorized")
	weak.Confidence = 0.2
	if _, err := m.Store(ctx, weak, &memory.StoreOptions{Embedding: []float32{1, 0}}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	demoted, err := m.Demote(ctx, weak)
	if err != nil || demoted != nil {
		t.Fatalf("Expected counted no-op on rejection, got %v, %v", demoted, err)
	}
	if m.Vector().Get(weak.ID) == nil {
		t.Error("Rejected demotion must leave the item in the vector tier")
	}
	if m.GetStats().DemotionNoops != 1 {
		t.Error("Rejected demotion should count as a no-op")
	}
	if got := m.Vector().Stats().Stored; got != 1 {
		t.Errorf("Re-insert must not count as a second store, got %d", got)
	}
}

func TestManager_DemoteChain(t *testing.T) {
	ctx := context.Background()
	m := memory.NewManager(nil, memory.WithClock(newFakeClock()))

	item, err := m.Store(ctx, memory.NewItem("generic", "fading"),
		&memory.StoreOptions{Embedding: []float32{1, 0}})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	demoted, err := m.Demote(ctx, item)
	if err != nil {
		t.Fatalf("Demote to semantic failed: %v", err)
	}
	if demoted.Tier != memory.TierSemantic {
		t.Fatalf("Expected semantic after first demote, got %s", demoted.Tier)
	}
	if m.Vector().Get(item.ID) != nil {
		t.Error("Demoted item should leave the vector tier")
	}

	demoted, err = m.Demote(ctx, demoted)
	if err != nil {
		t.Fatalf("Demote to working failed: %v", err)
	}
	if demoted.Tier != memory.TierWorking {
		t.Fatalf("Expected working after second demote, got %s", demoted.Tier)
	}

	bottom, err := m.Demote(ctx, demoted)
	if err != nil || bottom != nil {
		t.Fatalf("Expected nil no-op at chain bottom, got %v, %v", bottom, err)
	}

	stats := m.GetStats()
	if stats.Demotions != 2 {
		t.Errorf("Expected 2 demotions, got %d", stats.Demotions)
	}
	if stats.DemotionNoops != 1 {
		t.Errorf("Expected 1 demotion no-op, got %d", stats.DemotionNoops)
	}
}

func TestManager_DemotePromoteRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := memory.NewManager(nil, memory.WithClock(newFakeClock()))

	item, err := m.Store(ctx, memory.NewItem("generic", "round trip"),
		&memory.StoreOptions{Embedding: []float32{0, 1}})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	demoted, err := m.Demote(ctx, item)
	if err != nil {
		t.Fatalf("Demote failed: %v", err)
	}
	// The item kept its embedding, so promotion needs no embedder.
	promoted, err := m.Promote(ctx, demoted)
	if err != nil {
		t.Fatalf("Promote failed: %v", err)
	}
	if promoted.Tier != memory.TierVector {
		t.Errorf("Round trip should restore the vector tier, got %s", promoted.Tier)
	}
	if m.Vector().Get(item.ID) == nil {
		t.Error("Item missing from the vector tier after round trip")
	}
	if m.Semantic().Get(item.ID) != nil {
		t.Error("Item should have left the semantic tier")
	}
}

func TestManager_QueryFanOutIsolation(t *testing.T) {
	ctx := context.Background()
	m := memory.NewManager(nil, memory.WithClock(newFakeClock()))

	m.Store(ctx, memory.NewItem("note", "on the desk"), nil)
	m.Store(ctx, memory.NewItem("fact", "water is wet"), nil)
	m.Store(ctx, memory.NewItem("generic", "vectorized"),
		&memory.StoreOptions{Embedding: []float32{1, 0, 0}})
	m.Store(ctx, memory.NewItem("event", "happened"), nil)
	m.EndEpisode("success")

	// The query embedding has the wrong dimensions: the vector sub-result
	// stays empty while every other tier still answers.
	results := m.Query(ctx, memory.QueryParams{
		EpisodeContext: &memory.EpisodeContext{Kind: "event", Outcome: "success"},
		Embedding:      []float32{1, 0},
	})

	if len(results.Working) != 1 {
		t.Errorf("Expected 1 working result, got %d", len(results.Working))
	}
	if len(results.Semantic) != 1 {
		t.Errorf("Expected 1 semantic result, got %d", len(results.Semantic))
	}
	if len(results.Episodic) != 1 {
		t.Errorf("Expected 1 episodic match, got %d", len(results.Episodic))
	}
	if len(results.Vector) != 0 {
		t.Errorf("Expected vector sub-result suppressed on mismatch, got %d", len(results.Vector))
	}
}

func TestManager_EmbedderFailureDegradesToWorking(t *testing.T) {
	ctx := context.Background()
	m := memory.NewManager(nil,
		memory.WithClock(newFakeClock()),
		memory.WithEmbedder(failingEmbedder{}))

	stored, err := m.Store(ctx, memory.NewItem("generic", "wanted a vector"),
		&memory.StoreOptions{Tier: memory.TierVector})
	if err != nil {
		t.Fatalf("Degraded store must not error, got %v", err)
	}
	if stored.Tier != memory.TierWorking {
		t.Errorf("Expected fallback to working tier, got %s", stored.Tier)
	}
	if m.Vector().Size() != 0 {
		t.Error("Nothing should reach the vector tier without an embedding")
	}
}

func TestManager_PersistenceFireAndForget(t *testing.T) {
	ctx := context.Background()
	sink := newStubPersistence()
	m := memory.NewManager(nil,
		memory.WithClock(newFakeClock()),
		memory.WithPersistence(sink))

	stored, err := m.Store(ctx, memory.NewItem("note", "durable"), nil)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	select {
	case saved := <-sink.items:
		if saved.ID != stored.ID {
			t.Errorf("Persisted wrong item: %s", saved.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Item never reached persistence")
	}

	m.Store(ctx, memory.NewItem("event", "it happened"), nil)
	ended := m.EndEpisode("success")
	if ended == nil {
		t.Fatal("Expected an open episode to end")
	}

	select {
	case saved := <-sink.episodes:
		if saved.ID != ended.ID {
			t.Errorf("Persisted wrong episode: %s", saved.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Episode never reached persistence")
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !sink.closed {
		t.Error("Close should release the persistence collaborator")
	}
}

func TestManager_SummarySnapshot(t *testing.T) {
	ctx := context.Background()
	m := memory.NewManager(nil, memory.WithClock(newFakeClock()))

	m.Store(ctx, memory.NewItem("note", "current task"), nil)
	m.Store(ctx, memory.NewItem("fact", "deploys go out on tuesdays"), nil)
	m.Working().SetFocus(memory.NewItem("note", "release checklist"))
	for i := 0; i < 3; i++ {
		m.Semantic().StorePattern("retry-after-timeout", 0.8)
	}
	m.Store(ctx, memory.NewItem("event", "started"), nil)

	s := m.GetSummary()
	if len(s.WorkingItems) != 1 {
		t.Errorf("Expected 1 working item, got %d", len(s.WorkingItems))
	}
	if s.Focus == nil {
		t.Error("Expected focus in summary")
	}
	if len(s.RecentFacts) != 1 {
		t.Errorf("Expected 1 recent fact, got %d", len(s.RecentFacts))
	}
	if len(s.ActivePatterns) != 1 {
		t.Errorf("Expected 1 active pattern, got %d", len(s.ActivePatterns))
	}
	if s.OpenEpisodeID == "" {
		t.Error("Expected open episode id in summary")
	}

	text := s.String()
	for _, want := range []string{
		"=== MEMORY SNAPSHOT ===",
		"release checklist",
		"deploys go out on tuesdays",
		"retry-after-timeout",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("Summary text missing %q:\n%s", want, text)
		}
	}
}

func TestManager_StatsAggregation(t *testing.T) {
	ctx := context.Background()
	m := memory.NewManager(nil, memory.WithClock(newFakeClock()))

	m.Store(ctx, memory.NewItem("note", "a"), nil)
	m.Store(ctx, memory.NewItem("fact", "b"), nil)

	stats := m.GetStats()
	if stats.Stored != 2 {
		t.Errorf("Expected 2 manager stores, got %d", stats.Stored)
	}
	if stats.Tiers[memory.TierWorking].Size != 1 {
		t.Errorf("Expected working size 1, got %d", stats.Tiers[memory.TierWorking].Size)
	}
	if stats.Tiers[memory.TierSemantic].Size != 1 {
		t.Errorf("Expected semantic size 1, got %d", stats.Tiers[memory.TierSemantic].Size)
	}
}
