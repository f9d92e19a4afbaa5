package memory

import (
	"context"
	"sync"
	"time"

	"shepherd/internal/ratelimit/models"
	id "shepherd/pkg/domain"
)

// Store keeps attempt counters in process memory. It is correct for a single
// instance only; use the redis or sql store when running more than one.
type Store struct {
	mu       sync.Mutex
	counters map[id.AttendanceID]*counter
}

type counter struct {
	count       int
	windowStart time.Time
}

func New() *Store {
	return &Store{counters: make(map[id.AttendanceID]*counter)}
}

func (s *Store) Increment(_ context.Context, attendanceID id.AttendanceID, now time.Time, window time.Duration) (models.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[attendanceID]
	if !ok || now.After(c.windowStart.Add(window)) {
		c = &counter{windowStart: now}
		s.counters[attendanceID] = c
	}
	c.count++

	return models.Attempt{
		AttendanceID: attendanceID,
		Count:        c.count,
		WindowStart:  c.windowStart,
		ResetAt:      c.windowStart.Add(window),
	}, nil
}

func (s *Store) Reset(_ context.Context, attendanceID id.AttendanceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, attendanceID)
	return nil
}

// Sweep drops counters whose window closed before now.
func (s *Store) Sweep(now time.Time, window time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, c := range s.counters {
		if now.After(c.windowStart.Add(window)) {
			delete(s.counters, k)
			removed++
		}
	}
	return removed
}
