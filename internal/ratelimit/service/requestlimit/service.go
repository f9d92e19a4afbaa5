// Package requestlimit throttles verify requests per staff member and per
// client IP. It complements the per-record attempt limiter: a caller probing
// many attendance records never trips a single record's counter, but does
// exhaust its own bucket.
package requestlimit

import (
	"context"
	"errors"
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

// degradedRetryAfter is advertised when the bucket store fails.
const degradedRetryAfter = 30 * time.Second

type Service struct {
	buckets   ports.BucketStore
	policy    models.RequestPolicy
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

func WithPolicy(p models.RequestPolicy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

func New(buckets ports.BucketStore, opts ...Option) (*Service, error) {
	if buckets == nil {
		return nil, errors.New("bucket store is required")
	}
	s := &Service{
		buckets: buckets,
		policy:  models.DefaultRequestPolicy(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.policy.PerStaff < 1 || s.policy.PerIP < 1 || s.policy.Window <= 0 {
		return nil, errors.New("request policy limits must be positive")
	}
	return s, nil
}

// CheckBoth charges one request to the staff bucket and, when the client IP
// is known, to the IP bucket. The IP bucket is checked first so a shared
// device blocked by IP does not drain the staff member's allowance. A store
// failure blocks the request.
func (s *Service) CheckBoth(ctx context.Context, ip string, staffID id.StaffID) models.ThrottleResult {
	now := requestcontext.Now(ctx)

	var ipRes *models.ThrottleResult
	if ip != "" {
		res, ok := s.check(ctx, models.ScopeIP, ip, s.policy.PerIP, now)
		if !ok {
			return res
		}
		ipRes = &res
	}

	staffRes, ok := s.check(ctx, models.ScopeStaff, staffID.String(), s.policy.PerStaff, now)
	if !ok || ipRes == nil {
		return staffRes
	}
	return moreRestrictive(*ipRes, staffRes)
}

func (s *Service) check(ctx context.Context, scope models.KeyScope, identifier string, limit int, now time.Time) (models.ThrottleResult, bool) {
	res, err := s.buckets.Allow(ctx, models.ThrottleKey(scope, identifier), limit, s.policy.Window, now)
	if err != nil {
		s.metrics.IncrementStoreErrors()
		s.logger.ErrorContext(ctx, "request throttle store unavailable, blocking request",
			"scope", string(scope),
			"error", err,
		)
		return models.ThrottleResult{Limit: limit, ResetAt: now.Add(degradedRetryAfter), RetryAfter: degradedRetryAfter}, false
	}
	if !res.Allowed {
		if res.RetryAfter < time.Second {
			res.RetryAfter = time.Second
		}
		s.metrics.ObserveThrottled(string(scope))
		observability.LogAudit(ctx, s.logger, s.publisher, audit.EventVerifyThrottled, audit.SeverityWarning,
			identifier, string(scope)+"_limit",
			"limit", limit,
			"window_seconds", int(s.policy.Window.Seconds()),
		)
		return res, false
	}
	return res, true
}

// moreRestrictive returns the result with fewer remaining requests, or the
// earlier reset when both have the same room left.
func moreRestrictive(a, b models.ThrottleResult) models.ThrottleResult {
	switch {
	case a.Remaining < b.Remaining:
		return a
	case b.Remaining < a.Remaining:
		return b
	case a.ResetAt.Before(b.ResetAt):
		return a
	default:
		return b
	}
}
