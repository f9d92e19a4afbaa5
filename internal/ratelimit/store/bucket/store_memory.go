// Package bucket keeps sliding-window request buckets in process memory.
package bucket

import (
	"context"
	"sync"
	"time"

	"shepherd/internal/ratelimit/models"
)

// Store is a per-instance throttle. Each bucket keeps the timestamps of the
// requests inside its window, so a burst straddling a window edge is still
// counted against one window.
type Store struct {
	mu      sync.Mutex
	buckets map[string]*window
}

type window struct {
	hits   []time.Time
	length time.Duration
}

func New() *Store {
	return &Store{buckets: make(map[string]*window)}
}

// Allow records a request at now when the bucket has room.
func (s *Store) Allow(_ context.Context, key string, limit int, length time.Duration, now time.Time) (models.ThrottleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.buckets[key]
	if w == nil {
		w = &window{length: length}
		s.buckets[key] = w
	}
	w.length = length
	w.trim(now)

	if len(w.hits) >= limit {
		resetAt := w.hits[0].Add(length)
		return models.ThrottleResult{
			Limit:      limit,
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
		}, nil
	}

	w.hits = append(w.hits, now)
	return models.ThrottleResult{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(w.hits),
		ResetAt:   w.hits[0].Add(length),
	}, nil
}

// Count returns the requests currently inside the bucket's window.
func (s *Store) Count(key string, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.buckets[key]
	if w == nil {
		return 0
	}
	w.trim(now)
	return len(w.hits)
}

// Sweep drops buckets with no request left inside their window.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, w := range s.buckets {
		w.trim(now)
		if len(w.hits) == 0 {
			delete(s.buckets, key)
			removed++
		}
	}
	return removed
}

// trim discards hits at or before now - length.
func (w *window) trim(now time.Time) {
	cutoff := now.Add(-w.length)
	i := 0
	for i < len(w.hits) && !w.hits[i].After(cutoff) {
		i++
	}
	w.hits = w.hits[i:]
}
