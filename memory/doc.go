// Package memory provides a four-tier, in-process memory store for agents.
//
// The tiers mirror a multi-level cache with differentiated replacement
// strategies:
//   - VectorTier: similarity-indexed long-term store, importance-ranked eviction
//   - EpisodicTier: append-only session recorder with compression and aging
//   - SemanticTier: fact/pattern store with confidence decay and tag associations
//   - WorkingTier: small short-term set (Miller's Law, ~7 items) with LRU
//     eviction, staleness expiry, and a single "focus" slot
//
// Manager routes incoming items to the right tier, answers unified queries
// across tiers, and moves items along the working -> semantic -> vector
// promotion chain.
//
// Collaborators are injected, never constructed here:
//   - Embedder: text-to-vector conversion (mock for tests, ONNX local,
//     API-based in production)
//   - Persistence: optional durable sink for serialized items and episodes
//     (chromem-go implementation provided)
//   - Clock: time source, injectable for deterministic tests
//
// The package performs no I/O of its own and holds no locks: a single
// logical owner is assumed. Wrap the manager in a mutex or an actor loop if
// concurrent access is required.
package memory
