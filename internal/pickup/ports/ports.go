// Package ports declares the collaborators the pickup service depends on.
package ports

import (
	"context"
	"time"

	"shepherd/internal/pickup/models"
	ratelimitmodels "shepherd/internal/ratelimit/models"
	staffmodels "shepherd/internal/staff/models"
	id "shepherd/pkg/domain"
	"shepherd/pkg/platform/audit"
)

// AttendanceSource looks up check-in records. Returns sentinel.ErrNotFound
// for unknown records.
type AttendanceSource interface {
	GetAttendance(ctx context.Context, attendanceID id.AttendanceID) (*models.AttendanceRecord, error)
}

// RosterSource returns a child's authorized pickup persons in roster order.
// A child without a roster yields an empty slice.
type RosterSource interface {
	ListRoster(ctx context.Context, childID id.ChildID) ([]models.AuthorizedPickupPerson, error)
}

// CapabilityChecker answers whether a staff member holds a capability.
type CapabilityChecker interface {
	HasCapability(ctx context.Context, staffID id.StaffID, c staffmodels.Capability) (bool, error)
}

// RateLimiter counts one verification attempt and decides whether it may proceed.
type RateLimiter interface {
	CheckAndIncrement(ctx context.Context, attendanceID id.AttendanceID) ratelimitmodels.Decision
	Reset(ctx context.Context, attendanceID id.AttendanceID) error
}

// CodeMatcher compares a presented code with a stored reference in constant time.
type CodeMatcher interface {
	Matches(ref, code string) bool
}

// AuditPublisher persists compliance events. An error means the event was
// not recorded and the operation must fail.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.ComplianceEvent) error
}

// SecurityPublisher forwards best-effort security events.
type SecurityPublisher interface {
	Emit(ctx context.Context, event audit.SecurityEvent)
}

// Ledger owns attendance state and the pickup log so that both change in one
// transaction.
type Ledger interface {
	// RunInTx runs fn in a transaction. The ctx passed to fn carries the
	// transaction so other stores on the same database can join it.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error

	// ListByChild returns entries recorded for the child within the optional
	// inclusive bounds, newest first.
	ListByChild(ctx context.Context, childID id.ChildID, from, to *time.Time) ([]models.PickupLogEntry, error)

	// ListByAttendance returns an attendance record's entries in append order.
	ListByAttendance(ctx context.Context, attendanceID id.AttendanceID) ([]models.PickupLogEntry, error)
}

// LedgerTx is the write surface available inside RunInTx.
type LedgerTx interface {
	// LockAttendance loads the record and holds it until the transaction ends.
	LockAttendance(ctx context.Context, attendanceID id.AttendanceID) (*models.AttendanceRecord, error)

	// FindByIdempotencyKey returns sentinel.ErrNotFound when the key is unused.
	FindByIdempotencyKey(ctx context.Context, key string) (*models.PickupLogEntry, error)

	// ListRoster reads the child's roster as the transaction sees it.
	ListRoster(ctx context.Context, childID id.ChildID) ([]models.AuthorizedPickupPerson, error)

	// LastEntry returns the newest entry for the record, or sentinel.ErrNotFound.
	LastEntry(ctx context.Context, attendanceID id.AttendanceID) (*models.PickupLogEntry, error)

	// AppendEntry returns sentinel.ErrConflict when the entry or its key already exists.
	AppendEntry(ctx context.Context, entry *models.PickupLogEntry) error

	// MarkCheckedOut returns sentinel.ErrConflict unless the record is checked in.
	MarkCheckedOut(ctx context.Context, attendanceID id.AttendanceID, at time.Time) error
}
