// Package seed loads a fixed demo dataset so a fresh deployment can be
// exercised end to end. Identifiers are derived from stable names, so seeding
// twice is harmless and tokens can be minted for the demo staff in advance.
package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"shepherd/internal/pickup/models"
	staffmodels "shepherd/internal/staff/models"
	id "shepherd/pkg/domain"
	"shepherd/pkg/platform/sentinel"
)

// Target is where attendance and roster rows are written.
type Target interface {
	GetAttendance(ctx context.Context, attendanceID id.AttendanceID) (*models.AttendanceRecord, error)
	PutAttendance(ctx context.Context, record models.AttendanceRecord) error
	ListRoster(ctx context.Context, childID id.ChildID) ([]models.AuthorizedPickupPerson, error)
	AddRosterEntry(ctx context.Context, p models.AuthorizedPickupPerson) error
}

type Granter interface {
	Grant(ctx context.Context, staffID id.StaffID, caps ...staffmodels.Capability) error
}

type Hasher interface {
	Hash(code string) string
}

// Fixture names the seeded identifiers.
type Fixture struct {
	ChildID      id.ChildID
	AttendanceID id.AttendanceID
	Volunteer    id.StaffID
	Supervisor   id.StaffID
}

// Demo codes. Printed by the server at startup in dev.
const (
	PrimaryCode    = "4321"
	AuthorizedCode = "1234"
	RestrictedCode = "9999"
)

func stable(name string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("shepherd:demo:"+name))
}

// DemoFixture returns the identifiers Demo writes.
func DemoFixture() Fixture {
	return Fixture{
		ChildID:      id.ChildID(stable("child")),
		AttendanceID: id.AttendanceID(stable("attendance")),
		Volunteer:    id.StaffID(stable("volunteer")),
		Supervisor:   id.StaffID(stable("supervisor")),
	}
}

// Demo seeds one checked-in child with a three-person roster and two staff
// members. Existing rows are left alone.
func Demo(ctx context.Context, target Target, staff Granter, hasher Hasher, now time.Time) (Fixture, error) {
	f := DemoFixture()

	_, err := target.GetAttendance(ctx, f.AttendanceID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		record := models.AttendanceRecord{
			ID:          f.AttendanceID,
			ChildID:     f.ChildID,
			SessionID:   id.SessionID(stable("session")),
			CheckedInAt: now.UTC().Truncate(time.Second),
			Status:      models.StatusCheckedIn,
		}
		if err := target.PutAttendance(ctx, record); err != nil {
			return f, fmt.Errorf("seed attendance: %w", err)
		}
	case err != nil:
		return f, fmt.Errorf("seed attendance: %w", err)
	}

	roster, err := target.ListRoster(ctx, f.ChildID)
	if err != nil {
		return f, fmt.Errorf("seed roster: %w", err)
	}
	if len(roster) == 0 {
		people := []models.AuthorizedPickupPerson{
			{DisplayName: "Alex Parent", Level: models.LevelPrimary, CodeRef: hasher.Hash(PrimaryCode)},
			{DisplayName: "P1", Level: models.LevelAuthorized, CodeRef: hasher.Hash(AuthorizedCode)},
			{DisplayName: "Sam Restricted", Level: models.LevelRestricted, CodeRef: hasher.Hash(RestrictedCode)},
		}
		for _, p := range people {
			p.ID = stable("roster:" + p.DisplayName)
			p.ChildID = f.ChildID
			p.PersonID = id.PersonID(stable("person:" + p.DisplayName))
			if err := target.AddRosterEntry(ctx, p); err != nil {
				return f, fmt.Errorf("seed roster entry %s: %w", p.DisplayName, err)
			}
		}
	}

	if err := staff.Grant(ctx, f.Volunteer, staffmodels.CapabilityCheckInVolunteer); err != nil {
		return f, fmt.Errorf("seed volunteer: %w", err)
	}
	if err := staff.Grant(ctx, f.Supervisor, staffmodels.CapabilityCheckInVolunteer, staffmodels.CapabilitySupervisor); err != nil {
		return f, fmt.Errorf("seed supervisor: %w", err)
	}
	return f, nil
}
