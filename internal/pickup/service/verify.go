package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"shepherd/internal/pickup/models"
	dErrors "shepherd/pkg/domain-errors"
	"shepherd/pkg/platform/audit"
	"shepherd/pkg/platform/sentinel"
	"shepherd/pkg/requestcontext"
)

const (
	outcomeAuthorized    = "authorized"
	outcomeNotAuthorized = "not_authorized"
	outcomeRestricted    = "restricted"
	outcomeRateLimited   = "rate_limited"
	outcomeNotFound      = "not_found"
	outcomeCheckedOut    = "checked_out"
	outcomeUnavailable   = "unavailable"
)

// Verify evaluates a presented security code for an attendance record.
//
// The attendance record must exist and be checked in. Every call that reaches
// the limiter counts as an attempt, and every call leaves a compliance event;
// if that event cannot be written the caller gets an error, not a result.
func (s *Service) Verify(ctx context.Context, cmd models.VerifyCommand) (*models.VerificationResult, error) {
	start := time.Now()
	defer s.metrics.ObserveLatency("verify", start)

	ctx, span := s.tracer.Start(ctx, "pickup.Verify")
	defer span.End()
	span.SetAttributes(attribute.String("attendance_id", cmd.AttendanceID.String()))

	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	subject := cmd.AttendanceID.String()

	record, err := s.attendance.GetAttendance(ctx, cmd.AttendanceID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.metrics.ObserveVerification(outcomeNotFound)
			if auditErr := s.emitCompliance(ctx, audit.EventPickupVerificationRefused, subject, outcomeNotFound, "attendance_not_found"); auditErr != nil {
				return nil, s.auditFailure(ctx, span, auditErr)
			}
			return nil, dErrors.New(dErrors.CodeNotFound, "attendance record not found")
		}
		return nil, s.lookupFailure(ctx, span, subject, "attendance_unavailable",
			dErrors.Wrap(err, dErrors.CodeInternal, "failed to load attendance record"))
	}
	if !record.IsCheckedIn() {
		s.metrics.ObserveVerification(outcomeCheckedOut)
		if auditErr := s.emitCompliance(ctx, audit.EventPickupVerificationRefused, subject, outcomeCheckedOut, "attendance_checked_out"); auditErr != nil {
			return nil, s.auditFailure(ctx, span, auditErr)
		}
		return nil, dErrors.New(dErrors.CodeInvalidState, "attendance record is already checked out")
	}

	decision := s.limiter.CheckAndIncrement(ctx, cmd.AttendanceID)
	if !decision.Allowed() {
		s.metrics.ObserveVerification(outcomeRateLimited)
		if auditErr := s.emitCompliance(ctx, audit.EventPickupVerificationRateLimited, subject, string(decision.Outcome), "attempt_limit"); auditErr != nil {
			return nil, s.auditFailure(ctx, span, auditErr)
		}
		span.SetAttributes(attribute.Bool("rate_limited", true))
		return nil, dErrors.RateLimited("too many verification attempts", decision.RetryAfter)
	}

	roster, err := s.roster.ListRoster(ctx, record.ChildID)
	if err != nil {
		return nil, s.lookupFailure(ctx, span, subject, "roster_unavailable",
			dErrors.Wrap(err, dErrors.CodeInternal, "failed to load pickup roster"))
	}

	result, outcome := s.evaluate(roster, cmd.PresentedCode, requestcontext.Now(ctx))
	s.metrics.ObserveVerification(outcome)

	decisionLabel := outcomeNotAuthorized
	if result.IsAuthorized {
		decisionLabel = outcomeAuthorized
	}
	if auditErr := s.emitCompliance(ctx, audit.EventPickupVerificationEvaluated, subject, decisionLabel, outcome); auditErr != nil {
		return nil, s.auditFailure(ctx, span, auditErr)
	}

	span.SetAttributes(attribute.Bool("authorized", result.IsAuthorized))
	return &result, nil
}

// lookupFailure audits a verification that could not be evaluated and returns
// err. A failed audit write is logged by auditFailure; err still wins.
func (s *Service) lookupFailure(ctx context.Context, span trace.Span, subject, reason string, err error) error {
	s.metrics.ObserveVerification(outcomeUnavailable)
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)
	if auditErr := s.emitCompliance(ctx, audit.EventPickupVerificationRefused, subject, outcomeUnavailable, reason); auditErr != nil {
		_ = s.auditFailure(ctx, span, auditErr)
	}
	return err
}

// evaluate compares the code with every roster entry so the time taken does
// not depend on where, or whether, a match sits in the roster. A Restricted
// match denies even when another entry also matches.
func (s *Service) evaluate(roster []models.AuthorizedPickupPerson, code string, now time.Time) (models.VerificationResult, string) {
	var (
		restricted bool
		best       models.Level
	)
	for _, p := range roster {
		matched := s.matcher.Matches(p.CodeRef, code)
		if !matched || !p.ActiveAt(now) {
			continue
		}
		switch {
		case p.Level == models.LevelRestricted:
			restricted = true
		case p.Level.Permits() && p.Level.Outranks(best):
			best = p.Level
		}
	}

	switch {
	case restricted:
		return models.VerificationResult{RequiresSupervisorOverride: true}, outcomeRestricted
	case best != "":
		return models.VerificationResult{IsAuthorized: true, MatchedLevel: best}, outcomeAuthorized
	default:
		return models.VerificationResult{RequiresSupervisorOverride: true}, outcomeNotAuthorized
	}
}
