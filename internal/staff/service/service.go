// Package service answers capability questions about authenticated staff.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"shepherd/internal/staff/models"
	id "shepherd/pkg/domain"
	dErrors "shepherd/pkg/domain-errors"
)

// Store returns the capabilities granted to a staff member. An unknown
// staff member has an empty set.
type Store interface {
	Capabilities(ctx context.Context, staffID id.StaffID) (models.CapabilitySet, error)
}

type Service struct {
	store  Store
	logger *slog.Logger
}

func New(store Store, logger *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("capability store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}, nil
}

// HasCapability reports whether the staff member holds c.
func (s *Service) HasCapability(ctx context.Context, staffID id.StaffID, c models.Capability) (bool, error) {
	set, err := s.capabilities(ctx, staffID)
	if err != nil {
		return false, err
	}
	return set.Has(c), nil
}

// Require returns Forbidden unless the staff member holds at least one of caps.
func (s *Service) Require(ctx context.Context, staffID id.StaffID, caps ...models.Capability) error {
	if staffID.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	set, err := s.capabilities(ctx, staffID)
	if err != nil {
		return err
	}
	if !set.HasAny(caps...) {
		s.logger.WarnContext(ctx, "capability check failed",
			"staff_id", staffID.String(),
			"required", caps,
		)
		return dErrors.New(dErrors.CodeForbidden, "insufficient capability")
	}
	return nil
}

func (s *Service) capabilities(ctx context.Context, staffID id.StaffID) (models.CapabilitySet, error) {
	set, err := s.store.Capabilities(ctx, staffID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load staff capabilities")
	}
	return set, nil
}
