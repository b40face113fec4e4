package writer

import (
	"sync"
	"time"
)

type seenEntry struct {
	key string
	at  time.Time
}

// SeenSet is a bounded set of recently seen keys. Keys expire after ttl and
// the oldest key is evicted once max is reached.
type SeenSet struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	now     func() time.Time
	entries map[string]time.Time
	order   []seenEntry
}

// NewSeenSet creates a set; now may be nil to use time.Now
func NewSeenSet(ttl time.Duration, max int, now func() time.Time) *SeenSet {
	if max <= 0 {
		max = 10000
	}
	if now == nil {
		now = time.Now
	}
	return &SeenSet{
		ttl:     ttl,
		max:     max,
		now:     now,
		entries: make(map[string]time.Time),
	}
}

// Add records key and reports whether it was not already present
func (s *SeenSet) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweepLocked(now)

	if _, ok := s.entries[key]; ok {
		return false
	}
	s.entries[key] = now
	s.order = append(s.order, seenEntry{key: key, at: now})

	for len(s.entries) > s.max && len(s.order) > 0 {
		s.dropFrontLocked()
	}
	return true
}

// Forget removes keys so they can be added again
func (s *SeenSet) Forget(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := s.entries[key]; ok {
			delete(s.entries, key)
			drop[key] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return
	}
	kept := s.order[:0]
	for _, e := range s.order {
		if _, ok := drop[e.key]; !ok {
			kept = append(kept, e)
		}
	}
	s.order = kept
}

// Len returns the number of live keys
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(s.now())
	return len(s.entries)
}

func (s *SeenSet) sweepLocked(now time.Time) {
	if s.ttl <= 0 {
		return
	}
	for len(s.order) > 0 && now.Sub(s.order[0].at) >= s.ttl {
		s.dropFrontLocked()
	}
}

func (s *SeenSet) dropFrontLocked() {
	front := s.order[0]
	s.order = s.order[1:]
	if at, ok := s.entries[front.key]; ok && at.Equal(front.at) {
		delete(s.entries, front.key)
	}
}
