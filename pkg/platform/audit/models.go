package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// Categories drive retention and which publisher carries the event.
type EventCategory string

const (
	// CategoryCompliance covers events a regulator or safeguarding lead may ask for.
	// They are written synchronously and the calling operation fails if they cannot be.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events useful for monitoring and forensics.
	// They are buffered and may be dropped under sustained pressure.
	CategorySecurity EventCategory = "security"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	// ActorID is the staff member who performed the action.
	ActorID string
	// Subject is the record the action was taken against (attendance or child ID).
	Subject   string
	Action    string
	Decision  string
	Reason    string
	RequestID string
	ClientIP  string
}

type AuditEvent string

const (
	// Verification events
	EventPickupVerificationEvaluated   AuditEvent = "pickup_verification_evaluated"
	EventPickupVerificationRateLimited AuditEvent = "pickup_verification_rate_limited"
	EventPickupVerificationRefused     AuditEvent = "pickup_verification_refused"

	// Ledger events
	EventPickupRecorded        AuditEvent = "pickup_recorded"
	EventPickupOverrideApplied AuditEvent = "pickup_override_applied"
	EventPickupHistoryAccessed AuditEvent = "pickup_history_accessed"
	EventPickupAttemptsReset   AuditEvent = "pickup_attempts_reset"
	EventPickupAccessDenied    AuditEvent = "pickup_access_denied"

	// Infrastructure events
	EventRateLimiterUnavailable AuditEvent = "rate_limiter_unavailable"
	EventVerifyThrottled        AuditEvent = "verify_throttled"
	EventLedgerChainBroken      AuditEvent = "ledger_chain_broken"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventPickupVerificationEvaluated:   CategoryCompliance,
	EventPickupVerificationRateLimited: CategoryCompliance,
	EventPickupVerificationRefused:     CategoryCompliance,
	EventPickupRecorded:                CategoryCompliance,
	EventPickupOverrideApplied:         CategoryCompliance,
	EventPickupHistoryAccessed:         CategoryCompliance,
	EventPickupAttemptsReset:           CategoryCompliance,

	EventPickupAccessDenied:     CategorySecurity,
	EventRateLimiterUnavailable: CategorySecurity,
	EventVerifyThrottled:        CategorySecurity,
	EventLedgerChainBroken:      CategorySecurity,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategorySecurity.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategorySecurity
}

// ComplianceEvent captures actions requiring guaranteed persistence.
// Use with the compliance publisher for fail-closed semantics.
type ComplianceEvent struct {
	Timestamp time.Time
	ActorID   string
	Subject   string
	Action    AuditEvent
	Decision  string
	Reason    string
	RequestID string
	ClientIP  string
}

func (e ComplianceEvent) Category() EventCategory { return CategoryCompliance }

func (e ComplianceEvent) ToEvent() Event {
	return Event{
		Category:  CategoryCompliance,
		Timestamp: e.Timestamp,
		ActorID:   e.ActorID,
		Subject:   e.Subject,
		Action:    string(e.Action),
		Decision:  e.Decision,
		Reason:    e.Reason,
		RequestID: e.RequestID,
		ClientIP:  e.ClientIP,
	}
}

// Severity levels for security events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// SecurityEvent captures security-relevant actions for alerting.
// Events are processed asynchronously with buffering.
type SecurityEvent struct {
	Timestamp time.Time
	Subject   string
	Action    AuditEvent
	Reason    string
	IP        string
	RequestID string
	ActorID   string
	Severity  Severity
}

func (e SecurityEvent) Category() EventCategory { return CategorySecurity }

func (e SecurityEvent) ToEvent() Event {
	return Event{
		Category:  CategorySecurity,
		Timestamp: e.Timestamp,
		ActorID:   e.ActorID,
		Subject:   e.Subject,
		Action:    string(e.Action),
		Decision:  string(e.Severity),
		Reason:    e.Reason,
		RequestID: e.RequestID,
		ClientIP:  e.IP,
	}
}

// Store persists audit events. Implementations must be append-only.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
