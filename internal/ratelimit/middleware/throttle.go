// Package middleware applies the request throttle to HTTP routes.
package middleware

import (
	"context"
	"net/http"
	"strconv"

	"shepherd/internal/ratelimit/models"
	id "shepherd/pkg/domain"
	dErrors "shepherd/pkg/domain-errors"
	"shepherd/pkg/platform/httputil"
	"shepherd/pkg/requestcontext"
)

type Throttler interface {
	CheckBoth(ctx context.Context, ip string, staffID id.StaffID) models.ThrottleResult
}

// Throttle rejects requests once the caller's staff or IP bucket is full.
// It must run after authentication and client metadata capture.
func Throttle(t Throttler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			result := t.CheckBoth(ctx, requestcontext.ClientIP(ctx), requestcontext.StaffID(ctx))
			addRateLimitHeaders(w, result)

			if !result.Allowed {
				httputil.WriteError(w, dErrors.RateLimited("too many verification requests", result.RetryAfter))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func addRateLimitHeaders(w http.ResponseWriter, result models.ThrottleResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
