package memory

import (
	"context"
	"sort"
	"sync"

	audit "shepherd/pkg/platform/audit"
	"shepherd/pkg/platform/txhook"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	events []audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

// Append records the event. Inside an in-process ledger transaction the event
// is held until that transaction commits.
func (s *InMemoryStore) Append(ctx context.Context, event audit.Event) error {
	if txhook.Defer(ctx, func() { s.append(event) }) {
		return nil
	}
	s.append(event)
	return nil
}

func (s *InMemoryStore) append(event audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// ListBySubject returns events for one subject, newest first.
func (s *InMemoryStore) ListBySubject(_ context.Context, subject string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Event
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Subject == subject {
			out = append(out, s.events[i])
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// ListRecent returns the most recent N events across all subjects.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	all := make([]audit.Event, 0, len(s.events))
	for i := len(s.events) - 1; i >= 0; i-- {
		all = append(all, s.events[i])
	}
	s.mu.RUnlock()

	sortNewestFirst(all)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// sortNewestFirst orders by timestamp; callers pass events latest-appended first
// so ties resolve to the most recent append.
func sortNewestFirst(events []audit.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
}
