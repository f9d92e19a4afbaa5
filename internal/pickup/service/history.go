package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"shepherd/internal/pickup/models"
	staffmodels "shepherd/internal/staff/models"
	id "shepherd/pkg/domain"
	dErrors "shepherd/pkg/domain-errors"
	"shepherd/pkg/platform/audit"
	"shepherd/pkg/requestcontext"
)

// GetHistory returns a child's pickup log entries, newest first. Only
// supervisors may read it. Every attendance record in the result has its full
// hash chain verified; a broken chain is reported, not hidden.
func (s *Service) GetHistory(ctx context.Context, actingStaffID id.StaffID, query models.HistoryQuery) (*models.History, error) {
	start := time.Now()
	defer s.metrics.ObserveLatency("history", start)

	ctx, span := s.tracer.Start(ctx, "pickup.GetHistory")
	defer span.End()
	span.SetAttributes(attribute.String("child_id", query.ChildID.String()))

	if actingStaffID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if err := s.requireCapability(ctx, actingStaffID, staffmodels.CapabilitySupervisor, query.ChildID.String()); err != nil {
		return nil, err
	}
	if err := query.Validate(); err != nil {
		return nil, err
	}

	entries, err := s.ledger.ListByChild(ctx, query.ChildID, query.From, query.To)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "history query failed")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load pickup history")
	}
	if entries == nil {
		entries = []models.PickupLogEntry{}
	}

	chains, err := s.verifyChains(ctx, entries)
	if err != nil {
		return nil, err
	}

	if err := s.emitCompliance(ctx, audit.EventPickupHistoryAccessed, query.ChildID.String(), "granted", ""); err != nil {
		return nil, s.auditFailure(ctx, span, err)
	}

	span.SetAttributes(attribute.Int("entries", len(entries)))
	return &models.History{Entries: entries, ChainValid: chains}, nil
}

func (s *Service) verifyChains(ctx context.Context, entries []models.PickupLogEntry) (map[id.AttendanceID]bool, error) {
	chains := make(map[id.AttendanceID]bool)
	for _, e := range entries {
		if _, seen := chains[e.AttendanceID]; seen {
			continue
		}
		chain, err := s.ledger.ListByAttendance(ctx, e.AttendanceID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load pickup chain")
		}
		verr := models.VerifyChain(chain)
		chains[e.AttendanceID] = verr == nil
		if verr != nil {
			s.metrics.IncrementBrokenChains()
			s.logger.ErrorContext(ctx, "pickup log chain failed verification",
				"attendance_id", e.AttendanceID.String(),
				"request_id", requestcontext.RequestID(ctx),
				"error", verr,
			)
			s.emitSecurity(ctx, audit.EventLedgerChainBroken, e.AttendanceID.String(), "hash_mismatch", audit.SeverityCritical)
		}
	}
	return chains, nil
}
