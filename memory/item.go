package memory

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Item is the base entity stored in every tier.
//
// Timestamps and the access counter are maintained by the owning tier:
// CreatedAt/LastAccessed are stamped on first store, and every access bumps
// LastAccessed and AccessCount. The Tier label is rewritten whenever the
// item moves between tiers.
type Item struct {
	ID           string                 `json:"id"`
	Content      interface{}            `json:"content"`
	Kind         string                 `json:"kind"`
	Tier         TierName               `json:"tier"`
	CreatedAt    time.Time              `json:"created_at"`
	LastAccessed time.Time              `json:"last_accessed"`
	AccessCount  int                    `json:"access_count"`
	Confidence   float64                `json:"confidence"`
	Tags         []string               `json:"tags,omitempty"`
	Embedding    []float32              `json:"embedding,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	// seq is the tier-assigned insertion sequence, used to break eviction
	// ties deterministically. Not serialized; reassigned on tier transfer.
	seq uint64
}

// NewItem creates an item with a fresh ID. Timestamps are stamped by the
// tier that first stores it, so construction needs no clock.
func NewItem(kind string, content interface{}) *Item {
	return &Item{
		ID:         uuid.New().String(),
		Kind:       kind,
		Content:    content,
		Confidence: 1.0,
	}
}

// Weights for the importance score: the inverse golden ratio and its square.
const (
	phiInv  = 0.618
	phiInv2 = 0.382
)

// Importance ranks the item for eviction. It is always recomputed, never
// cached:
//
//	recency*0.618 + frequency*0.382 + confidence*0.382
//
// where recency = 1/(1+hoursSinceLastAccess) and frequency = ln(1+accesses).
func (it *Item) Importance(now time.Time) float64 {
	hours := now.Sub(it.LastAccessed).Hours()
	if hours < 0 {
		hours = 0
	}
	recency := 1.0 / (1.0 + hours)
	frequency := math.Log1p(float64(it.AccessCount))
	return recency*phiInv + frequency*phiInv2 + it.Confidence*phiInv2
}

// Touch records an access: timestamp plus counter bump.
func (it *Item) Touch(now time.Time) {
	it.LastAccessed = now
	it.AccessCount++
}

// stamp initializes lifecycle fields on first store into a tier.
// Items transferred from another tier keep their history.
func (it *Item) stamp(tier TierName, now time.Time, seq uint64) {
	if it.CreatedAt.IsZero() {
		it.CreatedAt = now
	}
	if it.LastAccessed.IsZero() {
		it.LastAccessed = it.CreatedAt
	}
	it.Tier = tier
	it.seq = seq
}

// HasTag reports whether the item carries the given tag.
func (it *Item) HasTag(tag string) bool {
	for _, t := range it.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
