package models

import (
	"strings"
	"time"

	id "shepherd/pkg/domain"
	dErrors "shepherd/pkg/domain-errors"
)

const (
	maxCodeLength          = 64
	maxNameLength          = 200
	maxJustificationLength = 2000
	maxIdempotencyKeyLen   = 128
)

// VerifyCommand asks whether a presented code releases the child on an attendance record.
type VerifyCommand struct {
	AttendanceID     id.AttendanceID
	PresentedCode    string
	PickupPersonName string
}

func (c *VerifyCommand) Validate() error {
	if c.AttendanceID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "attendance_id is required")
	}
	c.PresentedCode = strings.TrimSpace(c.PresentedCode)
	if c.PresentedCode == "" {
		return dErrors.New(dErrors.CodeValidation, "security_code is required")
	}
	if len(c.PresentedCode) > maxCodeLength {
		return dErrors.New(dErrors.CodeValidation, "security_code is too long")
	}
	c.PickupPersonName = strings.TrimSpace(c.PickupPersonName)
	if len(c.PickupPersonName) > maxNameLength {
		return dErrors.New(dErrors.CodeValidation, "pickup_person_name is too long")
	}
	return nil
}

// RecordPickupCommand commits the outcome of a pickup attempt.
type RecordPickupCommand struct {
	AttendanceID          id.AttendanceID
	PickupPersonName      string
	WasAuthorized         bool
	SupervisorOverride    bool
	ActingStaffID         id.StaffID
	OverrideJustification string
	// MatchedLevel is carried over from the verification result. It is a
	// claim: the entry keeps it only for Authorized decisions and only when
	// the child's roster has an active entry at that level.
	MatchedLevel   Level
	IdempotencyKey string
}

// Validate normalises the command. Capability checks happen in the service.
func (c *RecordPickupCommand) Validate() error {
	if c.AttendanceID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "attendance_id is required")
	}
	if c.ActingStaffID.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "acting staff member is required")
	}
	c.PickupPersonName = strings.TrimSpace(c.PickupPersonName)
	if c.PickupPersonName == "" {
		return dErrors.New(dErrors.CodeValidation, "pickup_person_name is required")
	}
	if len(c.PickupPersonName) > maxNameLength {
		return dErrors.New(dErrors.CodeValidation, "pickup_person_name is too long")
	}
	c.IdempotencyKey = strings.TrimSpace(c.IdempotencyKey)
	if c.IdempotencyKey == "" {
		return dErrors.New(dErrors.CodeValidation, "idempotency key is required")
	}
	if len(c.IdempotencyKey) > maxIdempotencyKeyLen {
		return dErrors.New(dErrors.CodeValidation, "idempotency key is too long")
	}
	c.OverrideJustification = strings.TrimSpace(c.OverrideJustification)
	if c.SupervisorOverride && c.OverrideJustification == "" {
		return dErrors.New(dErrors.CodeValidation, "override_justification is required for a supervisor override")
	}
	if len(c.OverrideJustification) > maxJustificationLength {
		return dErrors.New(dErrors.CodeValidation, "override_justification is too long")
	}
	if c.MatchedLevel != "" && !c.MatchedLevel.Permits() {
		return dErrors.New(dErrors.CodeValidation, "matched_level must be primary or authorized")
	}
	return nil
}

// Decision derives the logged decision. An override always wins so the log
// shows that a supervisor took responsibility for the release.
func (c *RecordPickupCommand) Decision() Decision {
	switch {
	case c.SupervisorOverride:
		return DecisionSupervisorOverride
	case c.WasAuthorized:
		return DecisionAuthorized
	default:
		return DecisionDenied
	}
}

// ResetAttemptsCommand clears the verification attempt counter on a record,
// for example after a parent mistyped a code and was locked out.
type ResetAttemptsCommand struct {
	AttendanceID  id.AttendanceID
	ActingStaffID id.StaffID
	Reason        string
}

func (c *ResetAttemptsCommand) Validate() error {
	if c.AttendanceID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "attendance_id is required")
	}
	if c.ActingStaffID.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "acting staff member is required")
	}
	c.Reason = strings.TrimSpace(c.Reason)
	if c.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	if len(c.Reason) > maxJustificationLength {
		return dErrors.New(dErrors.CodeValidation, "reason is too long")
	}
	return nil
}

// HistoryQuery selects a child's pickup log entries. Both bounds are inclusive.
type HistoryQuery struct {
	ChildID id.ChildID
	From    *time.Time
	To      *time.Time
}

func (q *HistoryQuery) Validate() error {
	if q.ChildID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "child_id is required")
	}
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		return dErrors.New(dErrors.CodeValidation, "to must not be earlier than from")
	}
	return nil
}
