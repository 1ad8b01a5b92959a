// Package chromem implements the optional Persistence collaborator on top
// of chromem-go, a pure-Go embedded vector database with on-disk
// persistence. Items and episodes are serialized to JSON documents in two
// collections; items that carry an embedding keep it, so a future process
// can rebuild similarity search over the persisted set.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"math"
	"strconv"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/liminalworks/tiermem/memory"
)

const (
	itemCollection    = "memory_items"
	episodeCollection = "memory_episodes"
)

// Store persists memory items and episodes in a chromem-go database.
type Store struct {
	db       *chromem.DB
	items    *chromem.Collection
	episodes *chromem.Collection
}

// Config configures the store.
type Config struct {
	// Path is the on-disk database directory. Empty keeps everything in
	// memory (useful for tests).
	Path string

	// Embedder, when set, embeds documents that arrive without an
	// embedding of their own. Without one, a deterministic hash vector
	// stands in so the documents remain addressable.
	Embedder memory.Embedder
}

// New creates a chromem-backed store.
func New(cfg Config) (*Store, error) {
	var db *chromem.DB
	var err error
	if cfg.Path != "" {
		db, err = chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, fmt.Errorf("open persistent chromem db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	embedFunc := embeddingFunc(cfg.Embedder)

	items, err := db.GetOrCreateCollection(itemCollection, nil, embedFunc)
	if err != nil {
		return nil, fmt.Errorf("create items collection: %w", err)
	}
	episodes, err := db.GetOrCreateCollection(episodeCollection, nil, embedFunc)
	if err != nil {
		return nil, fmt.Errorf("create episodes collection: %w", err)
	}

	return &Store{db: db, items: items, episodes: episodes}, nil
}

// SaveItem serializes the item into the items collection.
func (s *Store) SaveItem(ctx context.Context, item *memory.Item) error {
	content, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}

	doc := chromem.Document{
		ID:      item.ID,
		Content: string(content),
		Metadata: map[string]string{
			"tier":       string(item.Tier),
			"kind":       item.Kind,
			"created_at": item.CreatedAt.Format(time.RFC3339),
			"confidence": strconv.FormatFloat(item.Confidence, 'f', 4, 64),
		},
		Embedding: item.Embedding,
	}

	if err := s.items.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add item document: %w", err)
	}
	log.Printf("[CHROMEM] Persisted item %s (tier=%s)", item.ID, item.Tier)
	return nil
}

// SaveEpisode serializes the episode into the episodes collection.
func (s *Store) SaveEpisode(ctx context.Context, ep *memory.Episode) error {
	content, err := json.Marshal(ep)
	if err != nil {
		return fmt.Errorf("marshal episode: %w", err)
	}

	doc := chromem.Document{
		ID:      ep.ID,
		Content: string(content),
		Metadata: map[string]string{
			"kind":       ep.Kind,
			"outcome":    ep.Outcome,
			"started_at": ep.StartedAt.Format(time.RFC3339),
			"compressed": strconv.FormatBool(ep.Compressed),
		},
	}

	if err := s.episodes.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add episode document: %w", err)
	}
	log.Printf("[CHROMEM] Persisted episode %s (kind=%s)", ep.ID, ep.Kind)
	return nil
}

// ItemCount returns how many items have been persisted.
func (s *Store) ItemCount() int { return s.items.Count() }

// EpisodeCount returns how many episodes have been persisted.
func (s *Store) EpisodeCount() int { return s.episodes.Count() }

// Close releases resources. chromem flushes on write, so there is nothing
// further to sync.
func (s *Store) Close() error { return nil }

// embeddingFunc adapts a memory.Embedder to chromem's callback, falling
// back to a deterministic hash vector so documents without embeddings can
// still be stored.
func embeddingFunc(e memory.Embedder) chromem.EmbeddingFunc {
	if e != nil {
		return func(ctx context.Context, text string) ([]float32, error) {
			return e.Embed(ctx, text)
		}
	}
	return func(ctx context.Context, text string) ([]float32, error) {
		return hashVector(text), nil
	}
}

// hashVectorDims is small on purpose: the fallback vectors exist only so
// chromem will accept the documents, not for search.
const hashVectorDims = 16

func hashVector(text string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, hashVectorDims)
	var norm float32
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
		norm += vec[i] * vec[i]
	}
	norm = float32(math.Sqrt(float64(norm)))
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
