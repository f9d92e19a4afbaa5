// Package sqlstore keeps attempt counters in the ledger database so they are
// shared by every instance when Redis is not configured.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"shepherd/internal/ratelimit/models"
	id "shepherd/pkg/domain"
	"shepherd/pkg/platform/sqldialect"
)

type Store struct {
	db      *sql.DB
	dialect sqldialect.Dialect
}

func New(db *sql.DB, dialect sqldialect.Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Increment upserts the counter in a single statement. The caller supplies
// the cutoff so the store stays free of window arithmetic.
func (s *Store) Increment(ctx context.Context, attendanceID id.AttendanceID, now time.Time, window time.Duration) (models.Attempt, error) {
	now = now.UTC()
	cutoff := now.Add(-window)

	query := s.dialect.Rebind(`
		INSERT INTO verification_attempts (attendance_id, attempt_count, window_start)
		VALUES (?, 1, ?)
		ON CONFLICT (attendance_id) DO UPDATE SET
			attempt_count = CASE
				WHEN verification_attempts.window_start < ? THEN 1
				ELSE verification_attempts.attempt_count + 1
			END,
			window_start = CASE
				WHEN verification_attempts.window_start < ? THEN ?
				ELSE verification_attempts.window_start
			END
		RETURNING attempt_count, window_start
	`)

	var (
		count       int
		windowStart sqldialect.Time
	)
	err := sqldialect.Conn(ctx, s.db).QueryRowContext(ctx, query,
		uuid.UUID(attendanceID), now, cutoff, cutoff, now,
	).Scan(&count, &windowStart)
	if err != nil {
		return models.Attempt{}, fmt.Errorf("increment attempt counter: %w", err)
	}

	return models.Attempt{
		AttendanceID: attendanceID,
		Count:        count,
		WindowStart:  windowStart.Time,
		ResetAt:      windowStart.Time.Add(window),
	}, nil
}

func (s *Store) Reset(ctx context.Context, attendanceID id.AttendanceID) error {
	_, err := sqldialect.Conn(ctx, s.db).ExecContext(ctx,
		s.dialect.Rebind(`DELETE FROM verification_attempts WHERE attendance_id = ?`), uuid.UUID(attendanceID))
	if err != nil {
		return fmt.Errorf("reset attempt counter: %w", err)
	}
	return nil
}

// DeleteExpired removes counters whose window closed before cutoff.
func (s *Store) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		s.dialect.Rebind(`DELETE FROM verification_attempts WHERE window_start < ?`), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired attempt counters: %w", err)
	}
	return res.RowsAffected()
}
