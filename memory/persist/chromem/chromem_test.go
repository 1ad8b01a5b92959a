package chromem_test

import (
	"context"
	"testing"

	"github.com/liminalworks/tiermem/memory"
	"github.com/liminalworks/tiermem/memory/embedder/mock"
	"github.com/liminalworks/tiermem/memory/persist/chromem"
)

func TestStore_SaveItemHashFallback(t *testing.T) {
	ctx := context.Background()
	store, err := chromem.New(chromem.Config{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer store.Close()

	item := memory.NewItem("note", "remember the deploy window")
	if err := store.SaveItem(ctx, item); err != nil {
		t.Fatalf("SaveItem failed: %v", err)
	}

	if store.ItemCount() != 1 {
		t.Errorf("Expected 1 persisted item, got %d", store.ItemCount())
	}
}

func TestStore_SaveItemKeepsEmbedding(t *testing.T) {
	ctx := context.Background()
	store, err := chromem.New(chromem.Config{Embedder: mock.New(8)})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer store.Close()

	item := memory.NewItem("generic", "vectorized content")
	item.Tier = memory.TierVector
	item.Embedding = []float32{0.5, 0.5, 0.5, 0.5, 0, 0, 0, 0}
	if err := store.SaveItem(ctx, item); err != nil {
		t.Fatalf("SaveItem with embedding failed: %v", err)
	}

	// A second item without an embedding exercises the embedder path.
	if err := store.SaveItem(ctx, memory.NewItem("note", "plain")); err != nil {
		t.Fatalf("SaveItem without embedding failed: %v", err)
	}
	if store.ItemCount() != 2 {
		t.Errorf("Expected 2 persisted items, got %d", store.ItemCount())
	}
}

func TestStore_SaveEpisode(t *testing.T) {
	ctx := context.Background()
	store, err := chromem.New(chromem.Config{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer store.Close()

	tier := memory.NewEpisodicTier(nil, nil)
	tier.StartEpisode("task", nil)
	tier.AddEvent(memory.Event{Kind: "decision", Payload: "shipped it"})
	ep := tier.EndEpisode("success")

	if err := store.SaveEpisode(ctx, ep); err != nil {
		t.Fatalf("SaveEpisode failed: %v", err)
	}
	if store.EpisodeCount() != 1 {
		t.Errorf("Expected 1 persisted episode, got %d", store.EpisodeCount())
	}
}

func TestStore_PersistentPath(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := chromem.New(chromem.Config{Path: dir})
	if err != nil {
		t.Fatalf("New with path failed: %v", err)
	}
	if err := store.SaveItem(ctx, memory.NewItem("note", "survives restarts")); err != nil {
		t.Fatalf("SaveItem failed: %v", err)
	}
	store.Close()

	reopened, err := chromem.New(chromem.Config{Path: dir})
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reopened.Close()
	if reopened.ItemCount() != 1 {
		t.Errorf("Expected 1 item after reopen, got %d", reopened.ItemCount())
	}
}
