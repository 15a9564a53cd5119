// Package popularity maintains an approximate top-K of recent query strings.
// The map is bounded: when it overflows, it is compacted to the highest
// counts and the long tail is discarded, so counts are a popularity signal,
// not an exact tally.
package popularity

import (
	"sort"
	"strings"
	"sync"
)

// DefaultCapacity bounds the number of tracked queries.
const DefaultCapacity = 1000

// Entry is one tracked query with its observed count.
type Entry struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

// Tracker is a bounded frequency map. Safe for concurrent use.
type Tracker struct {
	capacity int

	mu     sync.Mutex
	counts map[string]int
}

// NewTracker creates a tracker with the given capacity. Values <= 0 fall back
// to DefaultCapacity.
func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Tracker{
		capacity: capacity,
		counts:   make(map[string]int),
	}
}

// Record normalizes the query and increments its counter. Compaction runs
// only when the map exceeds capacity, amortizing the sort.
func (t *Tracker) Record(query string) {
	normalized := Normalize(query)
	if normalized == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.counts[normalized]++
	if len(t.counts) > t.capacity {
		t.compactLocked()
	}
}

// compactLocked truncates the map to the top half of capacity by count.
// Halving rather than trimming a single entry keeps compaction rare under a
// steady stream of fresh queries. Ties are broken by map order, which is a
// documented non-guarantee.
func (t *Tracker) compactLocked() {
	entries := t.sortedLocked()
	keep := t.capacity / 2
	if keep < 1 {
		keep = 1
	}

	t.counts = make(map[string]int, keep)
	for _, e := range entries[:keep] {
		t.counts[e.Query] = e.Count
	}
}

// TopQueries returns the top entries by count descending. Order among equal
// counts is unspecified.
func (t *Tracker) TopQueries(limit int) []Entry {
	if limit <= 0 {
		return nil
	}

	t.mu.Lock()
	entries := t.sortedLocked()
	t.mu.Unlock()

	if limit > len(entries) {
		limit = len(entries)
	}
	return entries[:limit]
}

// Count returns the current count for a query, zero if untracked.
func (t *Tracker) Count(query string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[Normalize(query)]
}

// Len returns the number of tracked queries.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.counts)
}

func (t *Tracker) sortedLocked() []Entry {
	entries := make([]Entry, 0, len(t.counts))
	for q, c := range t.counts {
		entries = append(entries, Entry{Query: q, Count: c})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Count > entries[j].Count
	})
	return entries
}

// Normalize lowercases and trims a query for counting.
func Normalize(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}
