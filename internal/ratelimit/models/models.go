package models

import (
	"time"

	id "shepherd/pkg/domain"
)

// Policy bounds verification attempts per attendance record.
type Policy struct {
	MaxAttempts int
	Window      time.Duration
}

// DefaultPolicy allows five attempts per fifteen minutes.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, Window: 15 * time.Minute}
}

// Attempt is the counter state after an increment. The window opens at the
// first attempt and the count resets once now > WindowStart + window.
type Attempt struct {
	AttendanceID id.AttendanceID
	Count        int
	WindowStart  time.Time
	ResetAt      time.Time
}

// Outcome of a check-and-increment.
type Outcome string

const (
	OutcomeAllowed  Outcome = "allowed"
	OutcomeBlocked  Outcome = "blocked"
	OutcomeDegraded Outcome = "degraded"
)

// Decision is returned by the limiter. Degraded decisions are blocked
// because the counter store could not be reached.
type Decision struct {
	Outcome    Outcome
	Attempts   int
	Remaining  int
	RetryAfter time.Duration
}

func (d Decision) Allowed() bool  { return d.Outcome == OutcomeAllowed }
func (d Decision) Degraded() bool { return d.Outcome == OutcomeDegraded }

// RequestPolicy throttles verification requests per staff member and per
// client IP over a sliding window.
type RequestPolicy struct {
	PerStaff int
	PerIP    int
	Window   time.Duration
}

// DefaultRequestPolicy allows thirty requests per staff member and sixty per
// IP each minute.
func DefaultRequestPolicy() RequestPolicy {
	return RequestPolicy{PerStaff: 30, PerIP: 60, Window: time.Minute}
}

// ThrottleResult is the state of one sliding-window bucket after a request.
type ThrottleResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}
