package memory

import (
	"fmt"
	"strings"
)

// Summary is the human-readable snapshot of the memory system, intended
// for injection into a surrounding context or prompt. It is a plain
// structured record, not a wire format.
type Summary struct {
	WorkingItems   []*Item    `json:"working_items"`
	Focus          *Item      `json:"focus,omitempty"`
	RecentFacts    []*Item    `json:"recent_facts,omitempty"`
	ActivePatterns []*Pattern `json:"active_patterns,omitempty"`
	OpenEpisodeID  string     `json:"open_episode_id,omitempty"`
}

// recentFactSample caps how many facts the summary carries.
const recentFactSample = 5

// GetSummary snapshots the current working set, the focus item, a sample
// of the most recently stored facts, patterns with more than two
// occurrences, and the open episode id, if any.
func (m *Manager) GetSummary() *Summary {
	s := &Summary{
		WorkingItems:   m.working.GetAll(),
		Focus:          m.working.GetFocus(),
		ActivePatterns: m.semantic.ActivePatterns(2),
	}

	order := m.semantic.order
	for i := len(order) - 1; i >= 0 && len(s.RecentFacts) < recentFactSample; i-- {
		if fact := m.semantic.Get(order[i]); fact != nil {
			s.RecentFacts = append(s.RecentFacts, fact)
		}
	}

	if ep := m.episodic.Current(); ep != nil {
		s.OpenEpisodeID = ep.ID
	}
	return s
}

// String renders the summary as sectioned prompt text.
func (s *Summary) String() string {
	var parts []string
	parts = append(parts, "=== MEMORY SNAPSHOT ===")

	if s.Focus != nil {
		parts = append(parts, fmt.Sprintf("Focus: %s", describeItem(s.Focus)))
	}

	if len(s.WorkingItems) > 0 {
		parts = append(parts, "Working set:")
		for i, it := range s.WorkingItems {
			parts = append(parts, fmt.Sprintf("  %d. %s", i+1, describeItem(it)))
		}
	}

	if len(s.RecentFacts) > 0 {
		parts = append(parts, "Recent facts:")
		for _, fact := range s.RecentFacts {
			parts = append(parts, fmt.Sprintf("  - %s (confidence %.2f)", describeItem(fact), fact.Confidence))
		}
	}

	if len(s.ActivePatterns) > 0 {
		parts = append(parts, "Active patterns:")
		for _, p := range s.ActivePatterns {
			parts = append(parts, fmt.Sprintf("  - %s (seen %d times)", p.Signature, p.Occurrences))
		}
	}

	if s.OpenEpisodeID != "" {
		parts = append(parts, fmt.Sprintf("Open episode: %s", s.OpenEpisodeID))
	}

	return strings.Join(parts, "\n")
}

// describeItem renders an item's content for the snapshot, truncated.
func describeItem(it *Item) string {
	text, ok := it.Content.(string)
	if !ok {
		text = fmt.Sprintf("%v", it.Content)
	}
	const maxLen = 120
	if len(text) > maxLen {
		text = text[:maxLen-3] + "..."
	}
	if it.Kind != "" {
		return fmt.Sprintf("[%s] %s", it.Kind, text)
	}
	return text
}
