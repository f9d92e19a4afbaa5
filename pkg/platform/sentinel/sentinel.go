// Package sentinel holds the storage-level facts stores report. Services
// translate them into coded domain errors; they never reach a client as is.
package sentinel

import "errors"

var (
	// ErrNotFound: no attendance record, log entry or idempotency key matched.
	ErrNotFound = errors.New("not found")
	// ErrConflict: a unique key such as an idempotency key is already taken.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable: the counter store or database cannot be reached, or a
	// breaker in front of it is open.
	ErrUnavailable = errors.New("unavailable")
)
