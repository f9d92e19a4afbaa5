// Package handler exposes pickup verification, recording and history over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"shepherd/internal/pickup/models"
	staffmodels "shepherd/internal/staff/models"
	id "shepherd/pkg/domain"
	"shepherd/pkg/platform/httputil"
	"shepherd/pkg/requestcontext"
)

// IdempotencyKeyHeader carries the idempotency key for POST /pickup/record.
const IdempotencyKeyHeader = "Idempotency-Key"

// Service is the pickup service surface the handler needs.
type Service interface {
	Verify(ctx context.Context, cmd models.VerifyCommand) (*models.VerificationResult, error)
	RecordPickup(ctx context.Context, cmd models.RecordPickupCommand) (*models.RecordResult, error)
	GetHistory(ctx context.Context, actingStaffID id.StaffID, query models.HistoryQuery) (*models.History, error)
	ResetAttempts(ctx context.Context, cmd models.ResetAttemptsCommand) error
}

// Authorizer gates routes on staff capabilities.
type Authorizer interface {
	Require(ctx context.Context, staffID id.StaffID, caps ...staffmodels.Capability) error
}

type Handler struct {
	service        Service
	authorizer     Authorizer
	logger         *slog.Logger
	verifyThrottle func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithVerifyThrottle wraps POST /pickup/verify in a request throttle.
func WithVerifyThrottle(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.verifyThrottle = mw
	}
}

func New(service Service, authorizer Authorizer, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		service:    service,
		authorizer: authorizer,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the pickup endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	if h.verifyThrottle != nil {
		r.With(h.verifyThrottle).Post("/pickup/verify", h.HandleVerify)
	} else {
		r.Post("/pickup/verify", h.HandleVerify)
	}
	r.Post("/pickup/record", h.HandleRecord)
	r.Get("/children/{childID}/pickup-history", h.HandleHistory)
	r.Post("/attendance/{attendanceID}/verification-attempts/reset", h.HandleResetAttempts)
}

// HandleVerify handles POST /pickup/verify.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	staffID := requestcontext.StaffID(ctx)
	if err := h.authorizer.Require(ctx, staffID, staffmodels.CapabilityCheckInVolunteer, staffmodels.CapabilitySupervisor); err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[VerifyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.service.Verify(ctx, req.Command())
	if err != nil {
		h.logger.WarnContext(ctx, "pickup verification failed",
			"request_id", requestID,
			"staff_id", staffID.String(),
			"attendance_id", req.AttendanceID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "pickup verified",
		"request_id", requestID,
		"staff_id", staffID.String(),
		"attendance_id", req.AttendanceID,
		"authorized", result.IsAuthorized,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, toVerifyResponse(result))
}

// HandleRecord handles POST /pickup/record. A new entry answers 201; a
// replayed idempotency key answers 200 with the original entry.
func (h *Handler) HandleRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	staffID := requestcontext.StaffID(ctx)
	if err := h.authorizer.Require(ctx, staffID, staffmodels.CapabilityCheckInVolunteer, staffmodels.CapabilitySupervisor); err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[RecordRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if err := req.resolveIdempotencyKey(r.Header.Get(IdempotencyKeyHeader)); err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.service.RecordPickup(ctx, req.Command(staffID))
	if err != nil {
		h.logger.WarnContext(ctx, "pickup record failed",
			"request_id", requestID,
			"staff_id", staffID.String(),
			"attendance_id", req.AttendanceID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, toEntryResponse(result.Entry))
}

// HandleHistory handles GET /children/{childID}/pickup-history.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	staffID := requestcontext.StaffID(ctx)
	if err := h.authorizer.Require(ctx, staffID, staffmodels.CapabilitySupervisor); err != nil {
		httputil.WriteError(w, err)
		return
	}

	query, err := parseHistoryQuery(chi.URLParam(r, "childID"), r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	history, err := h.service.GetHistory(ctx, staffID, query)
	if err != nil {
		h.logger.WarnContext(ctx, "pickup history failed",
			"request_id", requestID,
			"staff_id", staffID.String(),
			"child_id", query.ChildID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	if !history.Intact() {
		h.logger.ErrorContext(ctx, "pickup history returned with broken chain",
			"request_id", requestID,
			"child_id", query.ChildID.String(),
		)
	}
	httputil.WriteJSON(w, http.StatusOK, toHistoryResponse(query.ChildID.String(), history))
}

// HandleResetAttempts handles
// POST /attendance/{attendanceID}/verification-attempts/reset.
func (h *Handler) HandleResetAttempts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	staffID := requestcontext.StaffID(ctx)
	if err := h.authorizer.Require(ctx, staffID, staffmodels.CapabilitySupervisor); err != nil {
		httputil.WriteError(w, err)
		return
	}

	attendanceID, err := id.ParseAttendanceID(chi.URLParam(r, "attendanceID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[ResetAttemptsRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	err = h.service.ResetAttempts(ctx, models.ResetAttemptsCommand{
		AttendanceID:  attendanceID,
		ActingStaffID: staffID,
		Reason:        req.Reason,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "verification attempt reset failed",
			"request_id", requestID,
			"staff_id", staffID.String(),
			"attendance_id", attendanceID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
