// Package service implements pickup verification, recording and the audit query.
//
// Verify is read-only apart from the attempt counter. RecordPickup is the
// only operation that changes attendance state, and it does so in the same
// ledger transaction that appends the pickup log entry. Both re-check
// capabilities themselves instead of trusting the transport layer.
package service

import (
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"shepherd/internal/pickup/metrics"
	"shepherd/internal/pickup/ports"
)

const tracerName = "shepherd/internal/pickup"

type Service struct {
	attendance ports.AttendanceSource
	roster     ports.RosterSource
	ledger     ports.Ledger
	limiter    ports.RateLimiter
	matcher    ports.CodeMatcher
	caps       ports.CapabilityChecker
	auditor    ports.AuditPublisher
	security   ports.SecurityPublisher
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

// Deps are the collaborators every deployment must provide.
type Deps struct {
	Attendance   ports.AttendanceSource
	Roster       ports.RosterSource
	Ledger       ports.Ledger
	Limiter      ports.RateLimiter
	Matcher      ports.CodeMatcher
	Capabilities ports.CapabilityChecker
	Auditor      ports.AuditPublisher
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
		s.security = p
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

func New(deps Deps, opts ...Option) (*Service, error) {
	var missing []error
	if deps.Attendance == nil {
		missing = append(missing, errors.New("attendance source is required"))
	}
	if deps.Roster == nil {
		missing = append(missing, errors.New("roster source is required"))
	}
	if deps.Ledger == nil {
		missing = append(missing, errors.New("ledger is required"))
	}
	if deps.Limiter == nil {
		missing = append(missing, errors.New("rate limiter is required"))
	}
	if deps.Matcher == nil {
		missing = append(missing, errors.New("code matcher is required"))
	}
	if deps.Capabilities == nil {
		missing = append(missing, errors.New("capability checker is required"))
	}
	if deps.Auditor == nil {
		missing = append(missing, errors.New("audit publisher is required"))
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("pickup service: %w", errors.Join(missing...))
	}

	s := &Service{
		attendance: deps.Attendance,
		roster:     deps.Roster,
		ledger:     deps.Ledger,
		limiter:    deps.Limiter,
		matcher:    deps.Matcher,
		caps:       deps.Capabilities,
		auditor:    deps.Auditor,
		logger:     slog.Default(),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}
