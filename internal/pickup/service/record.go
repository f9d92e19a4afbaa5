package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"shepherd/internal/pickup/device"
	"shepherd/internal/pickup/models"
	"shepherd/internal/pickup/ports"
	staffmodels "shepherd/internal/staff/models"
	id "shepherd/pkg/domain"
	dErrors "shepherd/pkg/domain-errors"
	"shepherd/pkg/platform/audit"
	"shepherd/pkg/platform/sentinel"
	"shepherd/pkg/requestcontext"
)

// RecordPickup commits a pickup decision to the ledger.
//
// A releasing decision (authorized, or a supervisor override) appends the
// entry and checks the child out in one transaction. A denial appends only.
// Reusing an idempotency key on the same record returns the original entry;
// any other attempt against a checked-out record is a Conflict.
func (s *Service) RecordPickup(ctx context.Context, cmd models.RecordPickupCommand) (*models.RecordResult, error) {
	start := time.Now()
	defer s.metrics.ObserveLatency("record", start)

	ctx, span := s.tracer.Start(ctx, "pickup.RecordPickup")
	defer span.End()
	span.SetAttributes(
		attribute.String("attendance_id", cmd.AttendanceID.String()),
		attribute.Bool("supervisor_override", cmd.SupervisorOverride),
	)

	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	if cmd.SupervisorOverride {
		if err := s.requireCapability(ctx, cmd.ActingStaffID, staffmodels.CapabilitySupervisor, cmd.AttendanceID.String()); err != nil {
			return nil, err
		}
	}

	decision := cmd.Decision()
	releases := decision.Releases()
	now := ledgerTime(requestcontext.Now(ctx))

	var result models.RecordResult
	err := s.ledger.RunInTx(ctx, func(txCtx context.Context, tx ports.LedgerTx) error {
		record, err := tx.LockAttendance(txCtx, cmd.AttendanceID)
		if err != nil {
			return err
		}

		existing, err := tx.FindByIdempotencyKey(txCtx, cmd.IdempotencyKey)
		switch {
		case err == nil:
			if existing.AttendanceID != cmd.AttendanceID {
				return dErrors.New(dErrors.CodeConflict, "idempotency key was used for a different attendance record")
			}
			result = models.RecordResult{Entry: existing, Replayed: true}
			return nil
		case !errors.Is(err, sentinel.ErrNotFound):
			return err
		}

		if !record.IsCheckedIn() {
			return dErrors.New(dErrors.CodeConflict, "attendance record is already checked out")
		}

		matched, err := s.confirmedLevel(txCtx, tx, record.ChildID, decision, cmd.MatchedLevel, now)
		if err != nil {
			return err
		}

		prev, err := tx.LastEntry(txCtx, cmd.AttendanceID)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return err
		}

		entry := &models.PickupLogEntry{
			ID:                    id.NewEntryID(),
			AttendanceID:          record.ID,
			ChildID:               record.ChildID,
			RecordedAt:            now,
			PickupPersonName:      cmd.PickupPersonName,
			Decision:              decision,
			MatchedLevel:          matched,
			StaffID:               cmd.ActingStaffID,
			OverrideJustification: cmd.OverrideJustification,
			ResultedInCheckout:    releases,
			IdempotencyKey:        cmd.IdempotencyKey,
			ClientIP:              requestcontext.ClientIP(ctx),
			Device:                device.ParseUserAgent(requestcontext.UserAgent(ctx)),
		}
		models.Seal(entry, prev)

		if err := tx.AppendEntry(txCtx, entry); err != nil {
			return err
		}
		if releases {
			if err := tx.MarkCheckedOut(txCtx, record.ID, now); err != nil {
				return err
			}
		}

		event := audit.EventPickupRecorded
		if decision == models.DecisionSupervisorOverride {
			event = audit.EventPickupOverrideApplied
		}
		if err := s.emitCompliance(txCtx, event, record.ID.String(), string(decision), entry.ID.String()); err != nil {
			return s.auditFailure(txCtx, span, err)
		}

		result = models.RecordResult{Entry: entry}
		return nil
	})
	if err != nil {
		err = s.translateLedgerError(err)
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			s.metrics.IncrementConflicts()
			s.logger.WarnContext(ctx, "pickup record rejected",
				"attendance_id", cmd.AttendanceID.String(),
				"staff_id", cmd.ActingStaffID.String(),
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		return nil, err
	}

	if result.Replayed {
		s.metrics.IncrementReplays()
		s.logger.InfoContext(ctx, "pickup record replayed",
			"attendance_id", cmd.AttendanceID.String(),
			"entry_id", result.Entry.ID.String(),
			"request_id", requestcontext.RequestID(ctx),
		)
		return &result, nil
	}

	s.metrics.ObserveRecorded(string(decision))
	s.logger.InfoContext(ctx, "pickup recorded",
		"attendance_id", cmd.AttendanceID.String(),
		"entry_id", result.Entry.ID.String(),
		"decision", string(decision),
		"resulted_in_checkout", releases,
		"staff_id", cmd.ActingStaffID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return &result, nil
}

// confirmedLevel returns the claimed level when the child's roster holds an
// active entry at that level, and "" otherwise. Only Authorized entries carry
// a level.
func (s *Service) confirmedLevel(ctx context.Context, tx ports.LedgerTx, childID id.ChildID, decision models.Decision, claimed models.Level, now time.Time) (models.Level, error) {
	if decision != models.DecisionAuthorized || claimed == "" {
		return "", nil
	}
	roster, err := tx.ListRoster(ctx, childID)
	if err != nil {
		return "", err
	}
	for _, p := range roster {
		if p.Level == claimed && p.ActiveAt(now) {
			return claimed, nil
		}
	}
	s.logger.WarnContext(ctx, "matched level not on roster, dropped",
		"child_id", childID.String(),
		"matched_level", string(claimed),
		"request_id", requestcontext.RequestID(ctx),
	)
	return "", nil
}

// requireCapability returns Forbidden, and raises a security event, when
// staffID lacks c.
func (s *Service) requireCapability(ctx context.Context, staffID id.StaffID, c staffmodels.Capability, subject string) error {
	ok, err := s.caps.HasCapability(ctx, staffID, c)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check staff capability")
	}
	if !ok {
		s.emitSecurity(ctx, audit.EventPickupAccessDenied, subject, "missing_"+c.String(), audit.SeverityWarning)
		return dErrors.New(dErrors.CodeForbidden, c.String()+" capability required")
	}
	return nil
}

// translateLedgerError maps store sentinels onto the domain taxonomy. Coded
// errors raised inside the transaction pass through unchanged.
func (s *Service) translateLedgerError(err error) error {
	if _, ok := dErrors.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "attendance record not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "attendance record was closed concurrently")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "pickup record did not complete")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record pickup")
	}
}

// ledgerTime normalises timestamps to the precision every ledger store keeps,
// so a hash computed before the write still verifies after a read.
func ledgerTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
