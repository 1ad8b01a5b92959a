package memory

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Event is a single entry in an episode's timeline.
type Event struct {
	Kind      string      `json:"kind"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
	Important bool        `json:"important,omitempty"`
}

// EpisodeSummary is the lossy record left behind by compression.
type EpisodeSummary struct {
	EventCount int           `json:"event_count"`
	KeyEvents  []Event       `json:"key_events"`
	Duration   time.Duration `json:"duration"`
	Outcome    string        `json:"outcome,omitempty"`
}

// Episode is a bounded ordered sequence of events within one session.
type Episode struct {
	ID         string                 `json:"id"`
	Kind       string                 `json:"kind"`
	StartedAt  time.Time              `json:"started_at"`
	EndedAt    time.Time              `json:"ended_at"`
	Events     []Event                `json:"events"`
	Outcome    string                 `json:"outcome,omitempty"`
	Summary    *EpisodeSummary        `json:"summary,omitempty"`
	Compressed bool                   `json:"compressed"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// maxKeyEvents caps how many events compression retains.
const maxKeyEvents = 10

// keyEventKinds are the event kinds compression always keeps.
var keyEventKinds = map[string]bool{
	"decision": true,
	"error":    true,
	"success":  true,
}

// Compress reduces the episode's event list to at most maxKeyEvents key
// events (decision/error/success kinds, or events flagged important) and
// records a summary. Calling it again is a no-op.
func (e *Episode) Compress() {
	if e.Compressed {
		return
	}

	var key []Event
	for _, ev := range e.Events {
		if keyEventKinds[ev.Kind] || ev.Important {
			key = append(key, ev)
			if len(key) == maxKeyEvents {
				break
			}
		}
	}

	var duration time.Duration
	if !e.EndedAt.IsZero() {
		duration = e.EndedAt.Sub(e.StartedAt)
	}

	e.Summary = &EpisodeSummary{
		EventCount: len(e.Events),
		KeyEvents:  key,
		Duration:   duration,
		Outcome:    e.Outcome,
	}
	e.Events = key
	e.Compressed = true
}

// EpisodicConfig configures the episodic tier.
type EpisodicConfig struct {
	// MaxEpisodes caps the number of retained episodes. Default: 500.
	MaxEpisodes int

	// MaxAge drives compression: episodes older than MaxAge/2 are
	// compressed during maintenance. Default: 7 days.
	MaxAge time.Duration
}

func (c *EpisodicConfig) withDefaults() EpisodicConfig {
	out := EpisodicConfig{MaxEpisodes: 500, MaxAge: 7 * 24 * time.Hour}
	if c == nil {
		return out
	}
	if c.MaxEpisodes > 0 {
		out.MaxEpisodes = c.MaxEpisodes
	}
	if c.MaxAge > 0 {
		out.MaxAge = c.MaxAge
	}
	return out
}

// EpisodicTier records sessions as episodes. Exactly one episode is open at
// a time; capacity and compression maintenance run whenever one ends.
type EpisodicTier struct {
	cfg      EpisodicConfig
	clock    Clock
	episodes []*Episode // ordered by start time; the open episode is last
	current  *Episode
	stats    TierStats
}

// NewEpisodicTier creates an episodic tier. A nil config uses defaults.
func NewEpisodicTier(cfg *EpisodicConfig, clock Clock) *EpisodicTier {
	if clock == nil {
		clock = SystemClock()
	}
	return &EpisodicTier{cfg: cfg.withDefaults(), clock: clock}
}

// StartEpisode opens a new episode, implicitly ending any open one with no
// outcome.
func (t *EpisodicTier) StartEpisode(kind string, metadata map[string]interface{}) *Episode {
	if t.current != nil {
		t.EndEpisode("")
	}
	ep := &Episode{
		ID:        uuid.New().String(),
		Kind:      kind,
		StartedAt: t.clock.Now(),
		Metadata:  metadata,
	}
	t.episodes = append(t.episodes, ep)
	t.current = ep
	t.stats.Stored++
	return ep
}

// AddEvent appends an event to the open episode, starting one (keyed by
// the event's own kind) if none is open. A zero timestamp is filled in.
func (t *EpisodicTier) AddEvent(ev Event) *Episode {
	if t.current == nil {
		t.StartEpisode(ev.Kind, nil)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = t.clock.Now()
	}
	t.current.Events = append(t.current.Events, ev)
	return t.current
}

// EndEpisode closes the open episode with the given outcome and runs
// capacity maintenance. Returns nil if no episode is open.
func (t *EpisodicTier) EndEpisode(outcome string) *Episode {
	ep := t.current
	if ep == nil {
		return nil
	}
	ep.EndedAt = t.clock.Now()
	ep.Outcome = outcome
	t.current = nil
	t.maintain()
	return ep
}

// Current returns the open episode, or nil.
func (t *EpisodicTier) Current() *Episode { return t.current }

// maintain compresses aging episodes and evicts the oldest past capacity.
func (t *EpisodicTier) maintain() {
	now := t.clock.Now()
	compressBefore := now.Add(-t.cfg.MaxAge / 2)
	for _, ep := range t.episodes {
		if !ep.Compressed && ep.StartedAt.Before(compressBefore) {
			ep.Compress()
		}
	}

	if over := len(t.episodes) - t.cfg.MaxEpisodes; over > 0 {
		// episodes is already ordered by start time
		t.episodes = append([]*Episode(nil), t.episodes[over:]...)
		t.stats.Evicted += over
	}
}

// EpisodeContext describes what FindSimilar matches against.
type EpisodeContext struct {
	// Kind matches the episode's kind. Worth 0.3.
	Kind string

	// Outcome matches the episode's outcome when both are non-empty.
	// Worth 0.3.
	Outcome string

	// EventKinds are the event kinds of interest; the fraction present in
	// the episode is worth up to 0.4.
	EventKinds []string
}

// EpisodeMatch pairs an episode with its similarity score.
type EpisodeMatch struct {
	Episode *Episode
	Score   float64
}

// FindSimilar scores every stored episode against the context and returns
// those scoring above 0.3, best first, truncated to limit (default 5).
func (t *EpisodicTier) FindSimilar(ctx EpisodeContext, limit int) []EpisodeMatch {
	if limit <= 0 {
		limit = 5
	}

	var matches []EpisodeMatch
	for _, ep := range t.episodes {
		score := scoreEpisode(ep, ctx)
		if score > 0.3 {
			matches = append(matches, EpisodeMatch{Episode: ep, Score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	t.stats.Retrieved += len(matches)
	return matches
}

func scoreEpisode(ep *Episode, ctx EpisodeContext) float64 {
	var score float64
	if ctx.Kind != "" && ep.Kind == ctx.Kind {
		score += 0.3
	}
	if ctx.Outcome != "" && ep.Outcome != "" && ep.Outcome == ctx.Outcome {
		score += 0.3
	}
	if len(ctx.EventKinds) > 0 {
		present := make(map[string]bool, len(ep.Events))
		for _, ev := range ep.Events {
			present[ev.Kind] = true
		}
		hits := 0
		for _, kind := range ctx.EventKinds {
			if present[kind] {
				hits++
			}
		}
		score += 0.4 * float64(hits) / float64(len(ctx.EventKinds))
	}
	return score
}

// Size returns the number of retained episodes, the open one included.
func (t *EpisodicTier) Size() int { return len(t.episodes) }

// Stats returns the tier's counters.
func (t *EpisodicTier) Stats() TierStats {
	s := t.stats
	s.Size = len(t.episodes)
	return s
}
