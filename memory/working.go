package memory

import "time"

// WorkingConfig configures the short-term tier.
type WorkingConfig struct {
	// MaxItems caps the working set. Default: 7 (Miller's Law).
	MaxItems int

	// MaxAge is the staleness bound on last access. Default: 30 minutes.
	MaxAge time.Duration

	// NoRefreshOnAccess disables the last-access refresh that Access
	// performs by default. Without the refresh, items expire on staleness
	// no matter how often they are read.
	NoRefreshOnAccess bool
}

func (c *WorkingConfig) withDefaults() WorkingConfig {
	out := WorkingConfig{MaxItems: 7, MaxAge: 30 * time.Minute}
	if c == nil {
		return out
	}
	if c.MaxItems > 0 {
		out.MaxItems = c.MaxItems
	}
	if c.MaxAge > 0 {
		out.MaxAge = c.MaxAge
	}
	out.NoRefreshOnAccess = c.NoRefreshOnAccess
	return out
}

// WorkingTier is the small bounded short-term store. Stale items expire
// before capacity is enforced; past capacity the least-recently-accessed
// item goes first. The focus slot sits outside both rules.
type WorkingTier struct {
	cfg   WorkingConfig
	clock Clock
	items []*Item // insertion order
	focus *Item

	seq          uint64
	focusChanges int
	stats        TierStats
}

// NewWorkingTier creates a working tier. A nil config uses defaults.
func NewWorkingTier(cfg *WorkingConfig, clock Clock) *WorkingTier {
	if clock == nil {
		clock = SystemClock()
	}
	return &WorkingTier{cfg: cfg.withDefaults(), clock: clock}
}

// Add inserts an item, expiring stale entries first and then evicting the
// least-recently-accessed until under capacity.
func (t *WorkingTier) Add(item *Item) *Item {
	t.expireStale()

	for len(t.items) >= t.cfg.MaxItems {
		t.evictOldest()
	}

	t.seq++
	item.stamp(TierWorking, t.clock.Now(), t.seq)
	t.items = append(t.items, item)
	t.stats.Stored++
	return item
}

// expireStale removes items whose last access is older than MaxAge.
func (t *WorkingTier) expireStale() {
	cutoff := t.clock.Now().Add(-t.cfg.MaxAge)
	kept := t.items[:0]
	for _, it := range t.items {
		if it.LastAccessed.Before(cutoff) {
			t.stats.Evicted++
			continue
		}
		kept = append(kept, it)
	}
	t.items = kept
}

// evictOldest drops the item with the oldest last access, first-found on
// ties (insertion order).
func (t *WorkingTier) evictOldest() {
	if len(t.items) == 0 {
		return
	}
	oldest := 0
	for i, it := range t.items {
		if it.LastAccessed.Before(t.items[oldest].LastAccessed) {
			oldest = i
		}
	}
	t.items = append(t.items[:oldest], t.items[oldest+1:]...)
	t.stats.Evicted++
}

// Access looks an item up by id, recording the access. With refresh
// enabled the last-access timestamp moves forward, which is how an item
// escapes staleness expiry. Returns nil when absent.
func (t *WorkingTier) Access(id string) *Item {
	for _, it := range t.items {
		if it.ID != id {
			continue
		}
		if t.cfg.NoRefreshOnAccess {
			it.AccessCount++
		} else {
			it.Touch(t.clock.Now())
		}
		t.stats.Retrieved++
		return it
	}
	return nil
}

// SetFocus replaces the focus item. Focus is a single independent slot:
// it is not counted against capacity and never swept for staleness.
func (t *WorkingTier) SetFocus(item *Item) {
	if item != nil && item.CreatedAt.IsZero() {
		item.stamp(TierWorking, t.clock.Now(), 0)
	}
	t.focus = item
	t.focusChanges++
}

// GetFocus returns the focus item, or nil.
func (t *WorkingTier) GetFocus() *Item { return t.focus }

// FocusChanges returns how many times the focus slot has been set.
func (t *WorkingTier) FocusChanges() int { return t.focusChanges }

// GetAll returns the current working set in insertion order.
func (t *WorkingTier) GetAll() []*Item {
	return append([]*Item(nil), t.items...)
}

// GetByKind returns current items with the given kind, in insertion order.
func (t *WorkingTier) GetByKind(kind string) []*Item {
	var out []*Item
	for _, it := range t.items {
		if it.Kind == kind {
			out = append(out, it)
		}
	}
	return out
}

// Remove deletes and returns the item with the given id, or nil.
func (t *WorkingTier) Remove(id string) *Item {
	for i, it := range t.items {
		if it.ID == id {
			t.items = append(t.items[:i], t.items[i+1:]...)
			return it
		}
	}
	return nil
}

// Clear empties the working set and the focus slot.
func (t *WorkingTier) Clear() {
	t.items = nil
	t.focus = nil
}

// Size returns the current item count, focus excluded.
func (t *WorkingTier) Size() int { return len(t.items) }

// Stats returns the tier's counters.
func (t *WorkingTier) Stats() TierStats {
	s := t.stats
	s.Size = len(t.items)
	return s
}
