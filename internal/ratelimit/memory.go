package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	start time.Time
	count int
}

// MemoryStore is a process-local Store. The mutex serializes the
// check-and-increment, so concurrent bursts cannot undercount. Stale windows
// are deleted lazily on the next Take for the same key; keys that stop being
// used are bounded by identifier x action cardinality.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string][]window
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string][]window)}
}

// Take implements Store.
func (s *MemoryStore) Take(_ context.Context, identifier, action string, rule Rule, now time.Time) (Decision, error) {
	key := identifier + "\x00" + action
	cutoff := now.Add(-rule.Window)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Windows inside the lookback count toward the limit. This is a superset
	// of the current aligned window: at an exact boundary instant the
	// previous window still qualifies.
	var total int
	earliest := time.Time{}
	kept := s.windows[key][:0]
	for _, w := range s.windows[key] {
		if w.start.Before(cutoff) {
			continue // lazy GC
		}
		kept = append(kept, w)
		total += w.count
		if earliest.IsZero() || w.start.Before(earliest) {
			earliest = w.start
		}
	}
	s.windows[key] = kept

	if total >= rule.Max {
		return Decision{Allowed: false, RetryAfter: earliest.Add(rule.Window).Sub(now)}, nil
	}

	cur := windowStart(now, rule.Window)
	found := false
	for i := range s.windows[key] {
		if s.windows[key][i].start.Equal(cur) {
			s.windows[key][i].count++
			found = true
			break
		}
	}
	if !found {
		s.windows[key] = append(s.windows[key], window{start: cur, count: 1})
	}
	return Decision{Allowed: true, Remaining: rule.Max - total - 1}, nil
}
