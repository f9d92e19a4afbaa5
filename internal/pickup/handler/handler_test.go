package handler

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"shepherd/internal/pickup/codehash"
	"shepherd/internal/pickup/models"
	"shepherd/internal/pickup/service"
	"shepherd/internal/pickup/store/memory"
	ratelimitmiddleware "shepherd/internal/ratelimit/middleware"
	ratelimitmodels "shepherd/internal/ratelimit/models"
	ratelimit "shepherd/internal/ratelimit/service"
	"shepherd/internal/ratelimit/service/requestlimit"
	"shepherd/internal/ratelimit/store/bucket"
	ratelimitmemory "shepherd/internal/ratelimit/store/memory"
	staffmodels "shepherd/internal/staff/models"
	staff "shepherd/internal/staff/service"
	staffmemory "shepherd/internal/staff/store/memory"
	id "shepherd/pkg/domain"
	"shepherd/pkg/platform/audit/publishers/compliance"
	auditmemory "shepherd/pkg/platform/audit/store/memory"
	"shepherd/pkg/requestcontext"
	"shepherd/pkg/testutil"
)

// HandlerSuite drives the routes through chi with real in-memory collaborators.
type HandlerSuite struct {
	suite.Suite
	router     http.Handler
	svc        *service.Service
	caps       *staff.Service
	logger     *slog.Logger
	store      *memory.Store
	now        time.Time
	volunteer  id.StaffID
	supervisor id.StaffID
	outsider   id.StaffID
	record     models.AttendanceRecord
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	s.now = time.Date(2026, 3, 1, 15, 30, 0, 0, time.UTC)
	s.store = memory.New()

	staffStore := staffmemory.New()
	s.volunteer = id.StaffID(uuid.New())
	s.supervisor = id.StaffID(uuid.New())
	s.outsider = id.StaffID(uuid.New())
	s.Require().NoError(staffStore.Grant(ctx, s.volunteer, staffmodels.CapabilityCheckInVolunteer))
	s.Require().NoError(staffStore.Grant(ctx, s.supervisor, staffmodels.CapabilitySupervisor))
	caps, err := staff.New(staffStore, logger)
	s.Require().NoError(err)

	matcher, err := codehash.New("handler-pepper")
	s.Require().NoError(err)
	limiter, err := ratelimit.New(ratelimitmemory.New(), ratelimit.WithLogger(logger))
	s.Require().NoError(err)

	svc, err := service.New(service.Deps{
		Attendance:   s.store,
		Roster:       s.store,
		Ledger:       s.store,
		Limiter:      limiter,
		Matcher:      matcher,
		Capabilities: caps,
		Auditor:      compliance.New(auditmemory.NewInMemoryStore()),
	}, service.WithLogger(logger))
	s.Require().NoError(err)

	s.record = models.AttendanceRecord{
		ID:          id.AttendanceID(uuid.New()),
		ChildID:     id.ChildID(uuid.New()),
		SessionID:   id.SessionID(uuid.New()),
		CheckedInAt: s.now.Add(-2 * time.Hour),
		Status:      models.StatusCheckedIn,
	}
	s.Require().NoError(s.store.PutAttendance(ctx, s.record))
	s.Require().NoError(s.store.AddRosterEntry(ctx, models.AuthorizedPickupPerson{
		ID:          uuid.New(),
		ChildID:     s.record.ChildID,
		DisplayName: "P1",
		Level:       models.LevelAuthorized,
		CodeRef:     matcher.Hash("1234"),
	}))

	s.svc, s.caps, s.logger = svc, caps, logger
	r := chi.NewRouter()
	New(svc, caps, logger).Register(r)
	s.router = r
}

func (s *HandlerSuite) do(req *http.Request, staffID id.StaffID) *httptest.ResponseRecorder {
	if !staffID.IsNil() {
		req = testutil.WithStaff(req, staffID.String())
	}
	req = req.WithContext(requestcontext.WithTime(req.Context(), s.now))
	return testutil.DoRequest(s.router, req)
}

func (s *HandlerSuite) verifyBody(code string) map[string]string {
	return map[string]string{
		"attendance_id":      s.record.ID.String(),
		"security_code":      code,
		"pickup_person_name": "P1",
	}
}

func (s *HandlerSuite) recordBody(key string) map[string]any {
	return map[string]any{
		"attendance_id":      s.record.ID.String(),
		"pickup_person_name": "P1",
		"was_authorized":     true,
		"matched_level":      "authorized",
		"idempotency_key":    key,
	}
}

// =============================================================================
// POST /pickup/verify
// =============================================================================

func (s *HandlerSuite) TestVerify() {
	s.Run("authorized code", func() {
		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/pickup/verify", s.verifyBody("1234")), s.volunteer)
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[VerifyResponse](s.T(), rr)
		s.True(resp.IsAuthorized)
		s.Equal("authorized", resp.MatchedLevel)
		s.False(resp.RequiresSupervisorOverride)
	})

	s.Run("wrong code asks for override", func() {
		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/pickup/verify", s.verifyBody("9999")), s.volunteer)
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[VerifyResponse](s.T(), rr)
		s.False(resp.IsAuthorized)
		s.True(resp.RequiresSupervisorOverride)
	})

	s.Run("unauthenticated", func() {
		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/pickup/verify", s.verifyBody("1234")), id.StaffID{})
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
	})

	s.Run("staff without capability", func() {
		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/pickup/verify", s.verifyBody("1234")), s.outsider)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "forbidden")
	})

	s.Run("malformed JSON", func() {
		rr := s.do(testutil.NewRequestWithBody(s.T(), http.MethodPost, "/pickup/verify", "not json"), s.volunteer)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("malformed attendance id", func() {
		body := s.verifyBody("1234")
		body["attendance_id"] = "nope"
		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/pickup/verify", body), s.volunteer)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")
	})

	s.Run("missing code", func() {
		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/pickup/verify", s.verifyBody("")), s.volunteer)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnprocessableEntity, "validation_error")
	})

	s.Run("unknown attendance record", func() {
		body := s.verifyBody("1234")
		body["attendance_id"] = uuid.NewString()
		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/pickup/verify", body), s.volunteer)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
	})
}

func (s *HandlerSuite) TestVerifyRateLimited() {
	for range 5 {
		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/pickup/verify", s.verifyBody("0000")), s.volunteer)
		s.Require().Equal(http.StatusOK, rr.Code)
	}

	rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/pickup/verify", s.verifyBody("1234")), s.volunteer)
	testutil.AssertStatus(s.T(), rr, http.StatusTooManyRequests)
	testutil.AssertRetryAfter(s.T(), rr)
}

func (s *HandlerSuite) TestVerifyThrottledAcrossRecords() {
	throttle, err := requestlimit.New(bucket.New(),
		requestlimit.WithLogger(s.logger),
		requestlimit.WithPolicy(ratelimitmodels.RequestPolicy{PerStaff: 2, PerIP: 100, Window: time.Minute}))
	s.Require().NoError(err)
	r := chi.NewRouter()
	New(s.svc, s.caps, s.logger, WithVerifyThrottle(ratelimitmiddleware.Throttle(throttle))).Register(r)
	s.router = r

	for range 2 {
		body := s.verifyBody("0000")
		body["attendance_id"] = uuid.NewString()
		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/pickup/verify", body), s.volunteer)
		s.Require().Equal(http.StatusNotFound, rr.Code)
	}

	rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/pickup/verify", s.verifyBody("1234")), s.volunteer)
	testutil.AssertStatus(s.T(), rr, http.StatusTooManyRequests)
	testutil.AssertRetryAfter(s.T(), rr)
	s.Equal("2", rr.Header().Get("X-RateLimit-Limit"))

	rr = s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/pickup/verify", s.verifyBody("1234")), s.supervisor)
	testutil.AssertStatusOK(s.T(), rr)
}

// =============================================================================
// POST /attendance/{attendanceID}/verification-attempts/reset
// =============================================================================

func (s *HandlerSuite) resetPath(attendanceID string) string {
	return "/attendance/" + attendanceID + "/verification-attempts/reset"
}

func (s *HandlerSuite) TestResetAttempts() {
	s.Run("supervisor unlocks a record", func() {
		s.SetupTest()
		for range 6 {
			s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/pickup/verify", s.verifyBody("0000")), s.volunteer)
		}
		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/pickup/verify", s.verifyBody("1234")), s.volunteer)
		s.Require().Equal(http.StatusTooManyRequests, rr.Code)

		rr = s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, s.resetPath(s.record.ID.String()),
			map[string]string{"reason": "parent mistyped, ID checked at desk"}), s.supervisor)
		testutil.AssertStatus(s.T(), rr, http.StatusNoContent)

		rr = s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/pickup/verify", s.verifyBody("1234")), s.volunteer)
		testutil.AssertStatusOK(s.T(), rr)
	})

	s.Run("volunteer is forbidden", func() {
		s.SetupTest()
		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, s.resetPath(s.record.ID.String()),
			map[string]string{"reason": "locked out"}), s.volunteer)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "forbidden")
	})

	s.Run("reason is required", func() {
		s.SetupTest()
		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, s.resetPath(s.record.ID.String()),
			map[string]string{"reason": "  "}), s.supervisor)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnprocessableEntity, "validation_error")
	})

	s.Run("unknown record", func() {
		s.SetupTest()
		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, s.resetPath(uuid.NewString()),
			map[string]string{"reason": "locked out"}), s.supervisor)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
	})

	s.Run("malformed record id", func() {
		s.SetupTest()
		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, s.resetPath("nope"),
			map[string]string{"reason": "locked out"}), s.supervisor)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")
	})
}

// =============================================================================
// POST /pickup/record
// =============================================================================

func (s *HandlerSuite) TestRecord() {
	rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/pickup/record", s.recordBody("req-1")), s.volunteer)
	testutil.AssertStatus(s.T(), rr, http.StatusCreated)
	created := testutil.UnmarshalResponse[EntryResponse](s.T(), rr)
	s.Equal("authorized", created.Decision)
	s.True(created.ResultedInCheckout)
	s.Equal(s.volunteer.String(), created.StaffID)

	s.Run("replay returns the original entry", func() {
		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/pickup/record", s.recordBody("req-1")), s.volunteer)
		testutil.AssertStatusOK(s.T(), rr)
		replayed := testutil.UnmarshalResponse[EntryResponse](s.T(), rr)
		s.Equal(created.ID, replayed.ID)
		s.Equal(created.Hash, replayed.Hash)
	})

	s.Run("second release conflicts", func() {
		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/pickup/record", s.recordBody("req-2")), s.volunteer)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "conflict")
	})

	s.Run("verify after release is invalid state", func() {
		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/pickup/verify", s.verifyBody("1234")), s.volunteer)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "invalid_state")
	})
}

func (s *HandlerSuite) TestRecordIdempotencyHeader() {
	s.Run("header supplies the key", func() {
		body := s.recordBody("")
		delete(body, "idempotency_key")
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/pickup/record", body)
		req.Header.Set(IdempotencyKeyHeader, "from-header")
		rr := s.do(req, s.volunteer)
		testutil.AssertStatus(s.T(), rr, http.StatusCreated)
		s.Equal("from-header", testutil.UnmarshalResponse[EntryResponse](s.T(), rr).IdempotencyKey)
	})

	s.Run("header and body disagree", func() {
		s.SetupTest()
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/pickup/record", s.recordBody("from-body"))
		req.Header.Set(IdempotencyKeyHeader, "from-header")
		rr := s.do(req, s.volunteer)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnprocessableEntity, "validation_error")
	})

	s.Run("no key at all", func() {
		s.SetupTest()
		body := s.recordBody("")
		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/pickup/record", body), s.volunteer)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnprocessableEntity, "validation_error")
	})
}

func (s *HandlerSuite) TestRecordOverride() {
	override := map[string]any{
		"attendance_id":          s.record.ID.String(),
		"pickup_person_name":     "Neighbour",
		"supervisor_override":    true,
		"override_justification": "parent called the desk",
		"idempotency_key":        "override-1",
	}

	s.Run("volunteer is forbidden", func() {
		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/pickup/record", override), s.volunteer)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "forbidden")
	})

	s.Run("supervisor releases", func() {
		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/pickup/record", override), s.supervisor)
		testutil.AssertStatus(s.T(), rr, http.StatusCreated)
		entry := testutil.UnmarshalResponse[EntryResponse](s.T(), rr)
		s.Equal("supervisor_override", entry.Decision)
		s.Equal("parent called the desk", entry.OverrideJustification)
	})

	s.Run("unknown level is rejected", func() {
		body := s.recordBody("lvl")
		body["matched_level"] = "guardian"
		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/pickup/record", body), s.volunteer)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnprocessableEntity, "validation_error")
	})
}

// =============================================================================
// GET /children/{childID}/pickup-history
// =============================================================================

func (s *HandlerSuite) historyPath(query string) string {
	path := "/children/" + s.record.ChildID.String() + "/pickup-history"
	if query != "" {
		path += "?" + query
	}
	return path
}

func (s *HandlerSuite) TestHistory() {
	rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/pickup/record", s.recordBody("req-1")), s.volunteer)
	s.Require().Equal(http.StatusCreated, rr.Code)

	s.Run("supervisor reads entries", func() {
		rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, s.historyPath("")), s.supervisor)
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[HistoryResponse](s.T(), rr)
		s.Require().Len(resp.Entries, 1)
		s.True(resp.ChainIntact)
		s.Empty(resp.BrokenChains)
	})

	s.Run("date-only bounds cover the whole day", func() {
		rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, s.historyPath("from=2026-03-01&to=2026-03-01")), s.supervisor)
		testutil.AssertStatusOK(s.T(), rr)
		s.Len(testutil.UnmarshalResponse[HistoryResponse](s.T(), rr).Entries, 1)
	})

	s.Run("range without entries is empty", func() {
		rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, s.historyPath("from=2026-02-01T00:00:00Z&to=2026-02-02T00:00:00Z")), s.supervisor)
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[HistoryResponse](s.T(), rr)
		s.NotNil(resp.Entries)
		s.Empty(resp.Entries)
	})

	s.Run("to before from", func() {
		rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, s.historyPath("from=2026-03-02&to=2026-03-01")), s.supervisor)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnprocessableEntity, "validation_error")
	})

	s.Run("unparseable date", func() {
		rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, s.historyPath("from=yesterday")), s.supervisor)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")
	})

	s.Run("volunteer is forbidden", func() {
		rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, s.historyPath("")), s.volunteer)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "forbidden")
	})
}

func TestParseBound(t *testing.T) {
	to, err := parseBound("to", "2026-03-01", true)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 3, 1, 23, 59, 59, 999999000, time.UTC)
	if !to.Equal(want) {
		t.Fatalf("end of day: got %v want %v", to, want)
	}

	from, err := parseBound("from", "2026-03-01T10:00:00+02:00", false)
	if err != nil {
		t.Fatal(err)
	}
	if from.Location() != time.UTC || from.Hour() != 8 {
		t.Fatalf("offset not normalised: %v", from)
	}

	none, err := parseBound("from", " ", false)
	if err != nil || none != nil {
		t.Fatalf("blank bound: %v %v", none, err)
	}
}
