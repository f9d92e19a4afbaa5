package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"shepherd/internal/pickup/models"
	staffmodels "shepherd/internal/staff/models"
	dErrors "shepherd/pkg/domain-errors"
	"shepherd/pkg/platform/audit"
	"shepherd/pkg/platform/sentinel"
)

// ResetAttempts clears a record's verification attempt counter. Supervisors
// only. The reset is audited after it takes effect; if the audit write fails
// the caller gets an error even though the counter is already clear.
func (s *Service) ResetAttempts(ctx context.Context, cmd models.ResetAttemptsCommand) error {
	start := time.Now()
	defer s.metrics.ObserveLatency("reset_attempts", start)

	ctx, span := s.tracer.Start(ctx, "pickup.ResetAttempts")
	defer span.End()
	span.SetAttributes(attribute.String("attendance_id", cmd.AttendanceID.String()))

	if err := cmd.Validate(); err != nil {
		return err
	}
	subject := cmd.AttendanceID.String()
	if err := s.requireCapability(ctx, cmd.ActingStaffID, staffmodels.CapabilitySupervisor, subject); err != nil {
		return err
	}

	if _, err := s.attendance.GetAttendance(ctx, cmd.AttendanceID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "attendance record not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load attendance record")
	}

	if err := s.limiter.Reset(ctx, cmd.AttendanceID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "attempt reset failed")
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset verification attempts")
	}

	if err := s.emitCompliance(ctx, audit.EventPickupAttemptsReset, subject, "reset", cmd.Reason); err != nil {
		return s.auditFailure(ctx, span, err)
	}
	return nil
}
