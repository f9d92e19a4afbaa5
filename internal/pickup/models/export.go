package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ExportTopic carries committed pickup log entries to downstream reporting.
const ExportTopic = "pickup.log.v1"

// LogExport is the wire form of a PickupLogEntry on ExportTopic.
// Consumers dedupe on EntryID; delivery is at least once.
type LogExport struct {
	EntryID               string    `json:"entry_id"`
	AttendanceID          string    `json:"attendance_id"`
	ChildID               string    `json:"child_id"`
	RecordedAt            time.Time `json:"recorded_at"`
	PickupPersonName      string    `json:"pickup_person_name"`
	Decision              string    `json:"decision"`
	MatchedLevel          string    `json:"matched_level,omitempty"`
	StaffID               string    `json:"staff_id"`
	OverrideJustification string    `json:"override_justification,omitempty"`
	ResultedInCheckout    bool      `json:"resulted_in_checkout"`
	Hash                  string    `json:"hash"`
	PrevHash              string    `json:"prev_hash,omitempty"`
}

func NewLogExport(e *PickupLogEntry) LogExport {
	return LogExport{
		EntryID:               e.ID.String(),
		AttendanceID:          e.AttendanceID.String(),
		ChildID:               e.ChildID.String(),
		RecordedAt:            e.RecordedAt.UTC(),
		PickupPersonName:      e.PickupPersonName,
		Decision:              string(e.Decision),
		MatchedLevel:          string(e.MatchedLevel),
		StaffID:               e.StaffID.String(),
		OverrideJustification: e.OverrideJustification,
		ResultedInCheckout:    e.ResultedInCheckout,
		Hash:                  e.Hash,
		PrevHash:              e.PrevHash,
	}
}

// OutboxMessage is a pending export written in the same transaction as its entry.
type OutboxMessage struct {
	ID        uuid.UUID
	EntryID   uuid.UUID
	Topic     string
	Key       string
	Payload   []byte
	CreatedAt time.Time
}

// NewOutboxMessage builds the export message for a freshly appended entry.
// The partition key is the attendance record so one child's pickups stay ordered.
func NewOutboxMessage(e *PickupLogEntry) (OutboxMessage, error) {
	payload, err := json.Marshal(NewLogExport(e))
	if err != nil {
		return OutboxMessage{}, err
	}
	return OutboxMessage{
		ID:        uuid.New(),
		EntryID:   uuid.UUID(e.ID),
		Topic:     ExportTopic,
		Key:       e.AttendanceID.String(),
		Payload:   payload,
		CreatedAt: e.RecordedAt.UTC(),
	}, nil
}
