// Package ports defines the interfaces the limiter depends on.
package ports

import (
	"context"
	"time"

	"shepherd/internal/ratelimit/models"
	id "shepherd/pkg/domain"
	"shepherd/pkg/platform/audit"
)

// CounterStore holds shared attempt counters. Increment must read, reset
// and increment in one atomic operation so concurrent callers on different
// instances cannot both observe the same count.
type CounterStore interface {
	Increment(ctx context.Context, attendanceID id.AttendanceID, now time.Time, window time.Duration) (models.Attempt, error)

	// Reset forgets the record's counter. Resetting an unknown record is not an error.
	Reset(ctx context.Context, attendanceID id.AttendanceID) error
}

// BucketStore holds sliding-window request buckets for the verify throttle.
type BucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (models.ThrottleResult, error)
}

// SecurityPublisher receives best-effort security events.
type SecurityPublisher interface {
	Emit(ctx context.Context, event audit.SecurityEvent)
}
