package handler

import (
	"slices"
	"time"

	"shepherd/internal/pickup/models"
)

type VerifyResponse struct {
	IsAuthorized               bool   `json:"is_authorized"`
	MatchedLevel               string `json:"matched_level,omitempty"`
	RequiresSupervisorOverride bool   `json:"requires_supervisor_override"`
}

func toVerifyResponse(r *models.VerificationResult) VerifyResponse {
	return VerifyResponse{
		IsAuthorized:               r.IsAuthorized,
		MatchedLevel:               string(r.MatchedLevel),
		RequiresSupervisorOverride: r.RequiresSupervisorOverride,
	}
}

// EntryResponse is one pickup log entry. Client IP and device stay server side.
type EntryResponse struct {
	ID                    string    `json:"id"`
	AttendanceID          string    `json:"attendance_id"`
	ChildID               string    `json:"child_id"`
	RecordedAt            time.Time `json:"recorded_at"`
	PickupPersonName      string    `json:"pickup_person_name"`
	Decision              string    `json:"decision"`
	MatchedLevel          string    `json:"matched_level,omitempty"`
	StaffID               string    `json:"staff_id"`
	OverrideJustification string    `json:"override_justification,omitempty"`
	ResultedInCheckout    bool      `json:"resulted_in_checkout"`
	IdempotencyKey        string    `json:"idempotency_key"`
	Hash                  string    `json:"hash"`
}

func toEntryResponse(e *models.PickupLogEntry) EntryResponse {
	return EntryResponse{
		ID:                    e.ID.String(),
		AttendanceID:          e.AttendanceID.String(),
		ChildID:               e.ChildID.String(),
		RecordedAt:            e.RecordedAt,
		PickupPersonName:      e.PickupPersonName,
		Decision:              string(e.Decision),
		MatchedLevel:          string(e.MatchedLevel),
		StaffID:               e.StaffID.String(),
		OverrideJustification: e.OverrideJustification,
		ResultedInCheckout:    e.ResultedInCheckout,
		IdempotencyKey:        e.IdempotencyKey,
		Hash:                  e.Hash,
	}
}

type HistoryResponse struct {
	ChildID      string          `json:"child_id"`
	Entries      []EntryResponse `json:"entries"`
	ChainIntact  bool            `json:"chain_intact"`
	BrokenChains []string        `json:"broken_chains,omitempty"`
}

func toHistoryResponse(childID string, h *models.History) HistoryResponse {
	resp := HistoryResponse{
		ChildID:     childID,
		Entries:     make([]EntryResponse, 0, len(h.Entries)),
		ChainIntact: h.Intact(),
	}
	for i := range h.Entries {
		resp.Entries = append(resp.Entries, toEntryResponse(&h.Entries[i]))
	}
	for attendanceID, ok := range h.ChainValid {
		if !ok {
			resp.BrokenChains = append(resp.BrokenChains, attendanceID.String())
		}
	}
	slices.Sort(resp.BrokenChains)
	return resp
}
