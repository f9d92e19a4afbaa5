package middleware

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"shepherd/internal/ratelimit/models"
	id "shepherd/pkg/domain"
	"shepherd/pkg/requestcontext"
	"shepherd/pkg/testutil"
)

type stubThrottler struct {
	result   models.ThrottleResult
	gotIP    string
	gotStaff id.StaffID
}

func (s *stubThrottler) CheckBoth(_ context.Context, ip string, staffID id.StaffID) models.ThrottleResult {
	s.gotIP = ip
	s.gotStaff = staffID
	return s.result
}

func TestThrottle(t *testing.T) {
	staff := id.StaffID(uuid.New())
	resetAt := time.Date(2026, 3, 1, 15, 1, 0, 0, time.UTC)
	reached := false
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	})
	request := func() *http.Request {
		req := testutil.NewRequest(t, http.MethodPost, "/pickup/verify")
		ctx := requestcontext.WithClientMetadata(req.Context(), "198.51.100.7", "")
		return req.WithContext(requestcontext.WithStaffID(ctx, staff))
	}

	t.Run("allowed request passes with headers", func(t *testing.T) {
		reached = false
		throttler := &stubThrottler{result: models.ThrottleResult{Allowed: true, Limit: 30, Remaining: 29, ResetAt: resetAt}}

		rr := testutil.DoRequest(Throttle(throttler)(next), request())

		testutil.AssertStatusOK(t, rr)
		assert.True(t, reached)
		assert.Equal(t, "198.51.100.7", throttler.gotIP)
		assert.Equal(t, staff, throttler.gotStaff)
		assert.Equal(t, "30", rr.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "29", rr.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, "1772377260", rr.Header().Get("X-RateLimit-Reset"))
	})

	t.Run("blocked request is rejected before the handler", func(t *testing.T) {
		reached = false
		throttler := &stubThrottler{result: models.ThrottleResult{Limit: 30, ResetAt: resetAt, RetryAfter: 42 * time.Second}}

		rr := testutil.DoRequest(Throttle(throttler)(next), request())

		testutil.AssertStatus(t, rr, http.StatusTooManyRequests)
		testutil.AssertRetryAfter(t, rr)
		assert.Equal(t, "42", rr.Header().Get("Retry-After"))
		assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
		assert.False(t, reached)
	})
}
