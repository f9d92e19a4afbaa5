package handler

import (
	"strings"
	"time"

	"shepherd/internal/pickup/models"
	id "shepherd/pkg/domain"
	dErrors "shepherd/pkg/domain-errors"
)

const dateLayout = "2006-01-02"

// VerifyRequest is the body of POST /pickup/verify.
type VerifyRequest struct {
	AttendanceID     string `json:"attendance_id"`
	SecurityCode     string `json:"security_code"`
	PickupPersonName string `json:"pickup_person_name"`

	parsedAttendanceID id.AttendanceID
}

// Validate implements httputil.Validatable.
func (r *VerifyRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	attendanceID, err := id.ParseAttendanceID(strings.TrimSpace(r.AttendanceID))
	if err != nil {
		return err
	}
	r.parsedAttendanceID = attendanceID
	return nil
}

func (r *VerifyRequest) Command() models.VerifyCommand {
	return models.VerifyCommand{
		AttendanceID:     r.parsedAttendanceID,
		PresentedCode:    r.SecurityCode,
		PickupPersonName: r.PickupPersonName,
	}
}

// RecordRequest is the body of POST /pickup/record. The idempotency key may
// come from the body or the Idempotency-Key header. matched_level echoes the
// verify response; it is checked against the roster, not trusted.
type RecordRequest struct {
	AttendanceID          string `json:"attendance_id"`
	PickupPersonName      string `json:"pickup_person_name"`
	WasAuthorized         bool   `json:"was_authorized"`
	SupervisorOverride    bool   `json:"supervisor_override"`
	OverrideJustification string `json:"override_justification,omitempty"`
	MatchedLevel          string `json:"matched_level,omitempty"`
	IdempotencyKey        string `json:"idempotency_key,omitempty"`

	parsedAttendanceID id.AttendanceID
	parsedLevel        models.Level
}

// Validate implements httputil.Validatable.
func (r *RecordRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	attendanceID, err := id.ParseAttendanceID(strings.TrimSpace(r.AttendanceID))
	if err != nil {
		return err
	}
	r.parsedAttendanceID = attendanceID

	if level := strings.TrimSpace(r.MatchedLevel); level != "" {
		parsed, err := models.ParseLevel(level)
		if err != nil {
			return err
		}
		r.parsedLevel = parsed
	}
	return nil
}

// resolveIdempotencyKey merges the header into the body field. Two different
// non-empty values are rejected.
func (r *RecordRequest) resolveIdempotencyKey(header string) error {
	header = strings.TrimSpace(header)
	body := strings.TrimSpace(r.IdempotencyKey)
	switch {
	case header == "":
	case body == "":
		r.IdempotencyKey = header
	case header != body:
		return dErrors.New(dErrors.CodeValidation, "Idempotency-Key header does not match idempotency_key")
	}
	return nil
}

func (r *RecordRequest) Command(staffID id.StaffID) models.RecordPickupCommand {
	return models.RecordPickupCommand{
		AttendanceID:          r.parsedAttendanceID,
		PickupPersonName:      r.PickupPersonName,
		WasAuthorized:         r.WasAuthorized,
		SupervisorOverride:    r.SupervisorOverride,
		ActingStaffID:         staffID,
		OverrideJustification: r.OverrideJustification,
		MatchedLevel:          r.parsedLevel,
		IdempotencyKey:        r.IdempotencyKey,
	}
}

// ResetAttemptsRequest is the body of
// POST /attendance/{attendanceID}/verification-attempts/reset.
type ResetAttemptsRequest struct {
	Reason string `json:"reason"`
}

// Validate implements httputil.Validatable. The reason is checked by the
// command so the rule lives in one place.
func (r *ResetAttemptsRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	return nil
}

// parseHistoryQuery reads the child from the path and the optional from/to
// bounds from the query string. Bounds accept RFC 3339 timestamps or plain
// dates; a plain "to" date covers the whole day.
func parseHistoryQuery(childParam, fromParam, toParam string) (models.HistoryQuery, error) {
	childID, err := id.ParseChildID(childParam)
	if err != nil {
		return models.HistoryQuery{}, err
	}
	from, err := parseBound("from", fromParam, false)
	if err != nil {
		return models.HistoryQuery{}, err
	}
	to, err := parseBound("to", toParam, true)
	if err != nil {
		return models.HistoryQuery{}, err
	}
	return models.HistoryQuery{ChildID: childID, From: from, To: to}, nil
}

func parseBound(name, raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	day, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, name+" must be an RFC 3339 timestamp or YYYY-MM-DD date")
	}
	if endOfDay {
		day = day.Add(24*time.Hour - time.Microsecond)
	}
	return &day, nil
}
