package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	id "shepherd/pkg/domain"
	dErrors "shepherd/pkg/domain-errors"
)

// Status is the lifecycle state of an attendance record.
type Status string

const (
	StatusCheckedIn  Status = "checked_in"
	StatusCheckedOut Status = "checked_out"
)

func (s Status) IsValid() bool {
	return s == StatusCheckedIn || s == StatusCheckedOut
}

// Level is a roster entry's authorization level.
type Level string

const (
	LevelPrimary    Level = "primary"
	LevelAuthorized Level = "authorized"
	LevelRestricted Level = "restricted"
)

func (l Level) IsValid() bool {
	switch l {
	case LevelPrimary, LevelAuthorized, LevelRestricted:
		return true
	}
	return false
}

// Permits reports whether a code match at this level releases the child.
func (l Level) Permits() bool {
	return l == LevelPrimary || l == LevelAuthorized
}

// rank orders permitted levels so Primary wins over Authorized when a code
// matches more than one entry.
func (l Level) rank() int {
	switch l {
	case LevelPrimary:
		return 2
	case LevelAuthorized:
		return 1
	}
	return 0
}

// Outranks reports whether l is a stronger permitted level than other.
func (l Level) Outranks(other Level) bool {
	return l.rank() > other.rank()
}

func (l Level) String() string { return string(l) }

// ParseLevel parses a level name. The empty string is not a level.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if !l.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "unknown authorization level")
	}
	return l, nil
}

// Decision is the outcome committed to the pickup log.
type Decision string

const (
	DecisionAuthorized         Decision = "authorized"
	DecisionDenied             Decision = "denied"
	DecisionSupervisorOverride Decision = "supervisor_override"
)

func (d Decision) IsValid() bool {
	switch d {
	case DecisionAuthorized, DecisionDenied, DecisionSupervisorOverride:
		return true
	}
	return false
}

// Releases reports whether a decision hands the child over.
func (d Decision) Releases() bool {
	return d == DecisionAuthorized || d == DecisionSupervisorOverride
}

// AttendanceRecord is one child's presence in a session, from check-in to checkout.
type AttendanceRecord struct {
	ID           id.AttendanceID
	ChildID      id.ChildID
	SessionID    id.SessionID
	CheckedInAt  time.Time
	CheckedOutAt *time.Time
	Status       Status
}

func (r *AttendanceRecord) IsCheckedIn() bool {
	return r.Status == StatusCheckedIn
}

// AuthorizedPickupPerson is one roster entry. PersonID is nil for people who
// are not in the system.
type AuthorizedPickupPerson struct {
	ID            uuid.UUID
	ChildID       id.ChildID
	PersonID      id.PersonID
	DisplayName   string
	Level         Level
	CodeRef       string
	EffectiveFrom *time.Time
	EffectiveTo   *time.Time
}

// ActiveAt reports whether the entry's effective range covers t.
// Both bounds are inclusive; a missing bound is open.
func (p AuthorizedPickupPerson) ActiveAt(t time.Time) bool {
	if p.EffectiveFrom != nil && t.Before(*p.EffectiveFrom) {
		return false
	}
	if p.EffectiveTo != nil && t.After(*p.EffectiveTo) {
		return false
	}
	return true
}

// VerificationResult is what Verify reveals to the caller: the outcome and
// whether an override is available, never which roster entry matched.
type VerificationResult struct {
	IsAuthorized               bool
	MatchedLevel               Level
	RequiresSupervisorOverride bool
}

// PickupLogEntry is an immutable record of one committed pickup decision.
type PickupLogEntry struct {
	ID                    id.EntryID
	AttendanceID          id.AttendanceID
	ChildID               id.ChildID
	RecordedAt            time.Time
	PickupPersonName      string
	Decision              Decision
	MatchedLevel          Level
	StaffID               id.StaffID
	OverrideJustification string
	ResultedInCheckout    bool
	IdempotencyKey        string
	ClientIP              string
	Device                string
	PrevHash              string
	Hash                  string
}

// History is the audit query result. ChainValid holds the integrity check for
// every attendance record that appears in Entries.
type History struct {
	Entries    []PickupLogEntry
	ChainValid map[id.AttendanceID]bool
}

// Intact reports whether every chain in the result verified.
func (h *History) Intact() bool {
	for _, ok := range h.ChainValid {
		if !ok {
			return false
		}
	}
	return true
}

// RecordResult is the entry RecordPickup committed, or found when the
// idempotency key had already been used for the same record.
type RecordResult struct {
	Entry    *PickupLogEntry
	Replayed bool
}
