package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count  int
	start  time.Time
	length time.Duration
}

func (w *window) expired(now time.Time) bool {
	return now.Sub(w.start) >= w.length
}

// MemoryStore keeps counters in process memory. It is only correct for a
// single process; use RedisStore when running several replicas.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*window)}
}

func (s *MemoryStore) Increment(_ context.Context, key string, length time.Duration, now time.Time) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || w.expired(now) {
		w = &window{start: now, length: length}
		s.windows[key] = w
	}
	w.count++

	return w.count, w.start.Add(w.length), nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.windows, key)
	s.mu.Unlock()
	return nil
}

// Prune drops elapsed windows and returns how many were removed.
func (s *MemoryStore) Prune(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, w := range s.windows {
		if w.expired(now) {
			delete(s.windows, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}
