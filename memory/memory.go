package memory

import (
	"context"
	"fmt"
	"time"
)

// TierName identifies one of the four stores.
type TierName string

const (
	TierWorking  TierName = "working"
	TierSemantic TierName = "semantic"
	TierEpisodic TierName = "episodic"
	TierVector   TierName = "vector"
)

// Embedder converts text to vector embeddings.
// Implementations: mock.Embedder (testing), onnx.Embedder (local),
// API-based embedders in production.
//
// The memory system treats vectors as opaque fixed-length numeric data; it
// validates dimension agreement within a tier instance, nothing more.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// Persistence is the optional durable sink for memory state.
// The manager hands items and episodes over fire-and-forget: failures are
// logged, never surfaced, and nothing blocks on completion.
//
// Implementations: chromem.Store (embedded, on-disk).
type Persistence interface {
	// SaveItem durably records an item. The wire format is the
	// implementation's concern.
	SaveItem(ctx context.Context, item *Item) error

	// SaveEpisode durably records a closed episode.
	SaveEpisode(ctx context.Context, ep *Episode) error

	// Close releases resources.
	Close() error
}

// Clock supplies the current time. Every decay and staleness computation in
// the tiers goes through a Clock so tests can run deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// DimensionMismatchError reports an embedding whose length disagrees with
// the dimensions established by the tier's first stored vector.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: want %d, got %d", e.Want, e.Got)
}

// UnknownTierError reports a tier name passed explicitly to Store that does
// not name any of the four tiers.
type UnknownTierError struct {
	Tier TierName
}

func (e *UnknownTierError) Error() string {
	return fmt.Sprintf("unknown memory tier: %q", e.Tier)
}

// TierStats holds the observability counters every tier exposes.
type TierStats struct {
	Size      int `json:"size"`
	Stored    int `json:"stored"`
	Retrieved int `json:"retrieved"`
	Evicted   int `json:"evicted"`
	Rejected  int `json:"rejected,omitempty"`
}

// ManagerStats aggregates manager-level counters with per-tier stats.
type ManagerStats struct {
	Stored         int                   `json:"stored"`
	Retrieved      int                   `json:"retrieved"`
	Promotions     int                   `json:"promotions"`
	Demotions      int                   `json:"demotions"`
	PromotionNoops int                   `json:"promotion_noops"`
	DemotionNoops  int                   `json:"demotion_noops"`
	Tiers          map[TierName]TierStats `json:"tiers"`
}
