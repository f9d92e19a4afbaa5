// Package domain holds typed identifiers shared across modules.
//
// IDs are distinct named types over uuid.UUID so an attendance ID can never be
// passed where a child ID is expected. Construct them from external input with
// the Parse* functions; those reject empty, malformed and nil UUIDs.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "shepherd/pkg/domain-errors"
)

type (
	AttendanceID uuid.UUID
	ChildID      uuid.UUID
	PersonID     uuid.UUID
	StaffID      uuid.UUID
	SessionID    uuid.UUID
	EntryID      uuid.UUID
)

const maxIDLength = 64

func parseUUID(kind, s string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	if len(s) > maxIDLength {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is too long")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	return u, nil
}

func ParseAttendanceID(s string) (AttendanceID, error) {
	u, err := parseUUID("attendance_id", s)
	return AttendanceID(u), err
}

func ParseChildID(s string) (ChildID, error) {
	u, err := parseUUID("child_id", s)
	return ChildID(u), err
}

func ParsePersonID(s string) (PersonID, error) {
	u, err := parseUUID("person_id", s)
	return PersonID(u), err
}

func ParseStaffID(s string) (StaffID, error) {
	u, err := parseUUID("staff_id", s)
	return StaffID(u), err
}

func ParseSessionID(s string) (SessionID, error) {
	u, err := parseUUID("session_id", s)
	return SessionID(u), err
}

func ParseEntryID(s string) (EntryID, error) {
	u, err := parseUUID("entry_id", s)
	return EntryID(u), err
}

func NewEntryID() EntryID { return EntryID(uuid.New()) }

func (id AttendanceID) String() string { return uuid.UUID(id).String() }
func (id ChildID) String() string      { return uuid.UUID(id).String() }
func (id PersonID) String() string     { return uuid.UUID(id).String() }
func (id StaffID) String() string      { return uuid.UUID(id).String() }
func (id SessionID) String() string    { return uuid.UUID(id).String() }
func (id EntryID) String() string      { return uuid.UUID(id).String() }

func (id AttendanceID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ChildID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id PersonID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id StaffID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id SessionID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id EntryID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
