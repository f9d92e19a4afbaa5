// Package observability provides audit logging helpers for the ratelimit module.
package observability

import (
	"context"
	"log/slog"

	"shepherd/internal/ratelimit/ports"
	"shepherd/pkg/platform/audit"
	"shepherd/pkg/requestcontext"
)

// LogAudit logs a security event and forwards it to the publisher when one is set.
func LogAudit(ctx context.Context, logger *slog.Logger, publisher ports.SecurityPublisher, event audit.AuditEvent, severity audit.Severity, subject, reason string, attrList ...any) {
	requestID := requestcontext.RequestID(ctx)

	args := append(attrList,
		"event", string(event),
		"log_type", "audit",
		"subject", subject,
		"reason", reason,
	)
	if requestID != "" {
		args = append(args, "request_id", requestID)
	}
	if logger != nil {
		logger.WarnContext(ctx, string(event), args...)
	}

	if publisher == nil {
		return
	}
	publisher.Emit(ctx, audit.SecurityEvent{
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
