package memory

import (
	"context"
	"sync"

	"shepherd/internal/staff/models"
	id "shepherd/pkg/domain"
)

type Store struct {
	mu     sync.RWMutex
	grants map[id.StaffID]models.CapabilitySet
}

func New() *Store {
	return &Store{grants: make(map[id.StaffID]models.CapabilitySet)}
}

func (s *Store) Capabilities(_ context.Context, staffID id.StaffID) (models.CapabilitySet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := models.NewCapabilitySet()
	for c := range s.grants[staffID] {
		out[c] = struct{}{}
	}
	return out, nil
}

func (s *Store) Grant(_ context.Context, staffID id.StaffID, caps ...models.Capability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.grants[staffID]
	if !ok {
		set = models.NewCapabilitySet()
		s.grants[staffID] = set
	}
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return nil
}

func (s *Store) Revoke(_ context.Context, staffID id.StaffID, c models.Capability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants[staffID], c)
	return nil
}
