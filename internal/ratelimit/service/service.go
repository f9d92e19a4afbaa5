// Package service implements the per-attendance verification attempt limiter.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"shepherd/internal/ratelimit/metrics"
	"shepherd/internal/ratelimit/models"
	"shepherd/internal/ratelimit/observability"
	"shepherd/internal/ratelimit/ports"
	id "shepherd/pkg/domain"
	"shepherd/pkg/platform/audit"
	"shepherd/pkg/requestcontext"
)

// degradedRetryAfter is advertised when the counter store is unreachable.
const degradedRetryAfter = 30 * time.Second

type Service struct {
	store     ports.CounterStore
	policy    models.Policy
	logger    *slog.Logger
	metrics   *metrics.Metrics
	publisher ports.SecurityPublisher
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithSecurityPublisher(p ports.SecurityPublisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithPolicy(p models.Policy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

func New(store ports.CounterStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("counter store is required")
	}
	s := &Service{
		store:  store,
		policy: models.DefaultPolicy(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.policy.MaxAttempts < 1 || s.policy.Window <= 0 {
		return nil, fmt.Errorf("invalid rate limit policy: %+v", s.policy)
	}
	return s, nil
}

// CheckAndIncrement counts one attempt against the attendance record and
// reports whether it may proceed. Every call counts, including blocked ones.
// A store failure blocks the attempt.
func (s *Service) CheckAndIncrement(ctx context.Context, attendanceID id.AttendanceID) models.Decision {
	now := requestcontext.Now(ctx)

	attempt, err := s.store.Increment(ctx, attendanceID, now, s.policy.Window)
	if err != nil {
		return s.degraded(ctx, attendanceID, err)
	}

	if attempt.Count > s.policy.MaxAttempts {
		retryAfter := attempt.ResetAt.Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		s.metrics.ObserveDecision(string(models.OutcomeBlocked))
		s.logger.InfoContext(ctx, "verification attempts exhausted",
			"attendance_id", attendanceID.String(),
			"attempts", attempt.Count,
			"retry_after", retryAfter.String(),
		)
		return models.Decision{
			Outcome:    models.OutcomeBlocked,
			Attempts:   attempt.Count,
			RetryAfter: retryAfter,
		}
	}

	s.metrics.ObserveDecision(string(models.OutcomeAllowed))
	return models.Decision{
		Outcome:   models.OutcomeAllowed,
		Attempts:  attempt.Count,
		Remaining: s.policy.MaxAttempts - attempt.Count,
	}
}

func (s *Service) degraded(ctx context.Context, attendanceID id.AttendanceID, err error) models.Decision {
	s.metrics.IncrementStoreErrors()
	s.metrics.ObserveDecision(string(models.OutcomeDegraded))

	reason := "counter_store_error"
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		reason = "counter_store_timeout"
	}
	s.logger.ErrorContext(ctx, "rate limiter store unavailable, blocking attempt",
		"attendance_id", attendanceID.String(),
		"error", err,
	)
	observability.LogAudit(ctx, nil, s.publisher, audit.EventRateLimiterUnavailable, audit.SeverityCritical, attendanceID.String(), reason)

	return models.Decision{
		Outcome:    models.OutcomeDegraded,
		RetryAfter: degradedRetryAfter,
	}
}

// Reset clears the attempt counter for the record so verification can resume
// before the window closes.
func (s *Service) Reset(ctx context.Context, attendanceID id.AttendanceID) error {
	if err := s.store.Reset(ctx, attendanceID); err != nil {
		s.metrics.IncrementStoreErrors()
		return fmt.Errorf("reset verification attempts: %w", err)
	}
	s.metrics.IncrementResets()
	s.logger.InfoContext(ctx, "verification attempts reset",
		"attendance_id", attendanceID.String(),
		"staff_id", requestcontext.StaffID(ctx).String(),
	)
	return nil
}

// Policy returns the configured limits.
func (s *Service) Policy() models.Policy { return s.policy }
