package testutil

import (
	"context"
	"net/http"
	"time"

	id "shepherd/pkg/domain"
	"shepherd/pkg/requestcontext"
)

// WithStaff adds an authenticated staff ID to the request context, the way
// the auth middleware does. Invalid IDs are ignored.
func WithStaff(req *http.Request, staffID string) *http.Request {
	parsed, err := id.ParseStaffID(staffID)
	if err != nil {
		return req
	}
	return req.WithContext(requestcontext.WithStaffID(req.Context(), parsed))
}

// StaffContext builds a context for service-level tests.
func StaffContext(staffID id.StaffID, at time.Time) context.Context {
	ctx := requestcontext.WithStaffID(context.Background(), staffID)
	ctx = requestcontext.WithRequestID(ctx, "test-request")
	return requestcontext.WithTime(ctx, at)
}
