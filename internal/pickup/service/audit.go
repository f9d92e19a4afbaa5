package service

import (
	"context"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	dErrors "shepherd/pkg/domain-errors"
	"shepherd/pkg/platform/audit"
	"shepherd/pkg/requestcontext"
)

// emitCompliance writes a compliance event and logs it with the audit markers.
// A non-nil error means nothing was recorded.
func (s *Service) emitCompliance(ctx context.Context, event audit.AuditEvent, subject, decision, reason string) error {
	requestID := requestcontext.RequestID(ctx)
	s.logger.InfoContext(ctx, string(event),
		"event", string(event),
		"log_type", "audit",
		"subject", subject,
		"decision", decision,
		"reason", reason,
		"request_id", requestID,
	)
	return s.auditor.Emit(ctx, audit.ComplianceEvent{
		Timestamp: requestcontext.Now(ctx),
		ActorID:   actorID(ctx),
		Subject:   subject,
		Action:    event,
		Decision:  decision,
		Reason:    reason,
		RequestID: requestID,
		ClientIP:  requestcontext.ClientIP(ctx),
	})
}

func (s *Service) emitSecurity(ctx context.Context, event audit.AuditEvent, subject, reason string, severity audit.Severity) {
	requestID := requestcontext.RequestID(ctx)
	s.logger.WarnContext(ctx, string(event),
		"event", string(event),
		"log_type", "audit",
		"subject", subject,
		"reason", reason,
		"request_id", requestID,
	)
	if s.security == nil {
		return
	}
	s.security.Emit(ctx, audit.SecurityEvent{
		Timestamp: requestcontext.Now(ctx),
		Subject:   subject,
		Action:    event,
		Reason:    reason,
		IP:        requestcontext.ClientIP(ctx),
		RequestID: requestID,
		ActorID:   actorID(ctx),
		Severity:  severity,
	})
}

func actorID(ctx context.Context) string {
	if staff := requestcontext.StaffID(ctx); !staff.IsNil() {
		return staff.String()
	}
	return ""
}

// auditFailure turns a failed compliance write into the request's error.
func (s *Service) auditFailure(ctx context.Context, span trace.Span, err error) error {
	s.logger.ErrorContext(ctx, "failed to write compliance audit event",
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	span.RecordError(err)
	span.SetStatus(codes.Error, "audit write failed")
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
}
