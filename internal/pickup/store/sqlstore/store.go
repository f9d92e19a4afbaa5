// Package sqlstore is the pickup ledger on PostgreSQL or SQLite.
//
// Attendance state, the pickup log and the export outbox share one database
// so RecordPickup commits all three in a single transaction. The attendance
// row is locked first; every later statement in the transaction is ordered
// behind that lock.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"shepherd/internal/pickup/models"
	id "shepherd/pkg/domain"
	"shepherd/pkg/platform/sentinel"
	"shepherd/pkg/platform/sqldialect"
)

const (
	defaultTxTimeout   = 5 * time.Second
	pgUniqueViolation  = "23505"
	attendanceColumns  = `id, child_id, session_id, checked_in_at, checked_out_at, status`
	rosterColumns      = `id, child_id, person_id, display_name, level, code_ref, effective_from, effective_to`
	entryColumns       = `id, attendance_id, child_id, recorded_at, pickup_person_name, decision, matched_level, staff_id, override_justification, resulted_in_checkout, idempotency_key, client_ip, device, prev_hash, hash`
	outboxColumns      = `id, entry_id, topic, msg_key, payload, created_at`
	defaultOutboxBatch = 100
)

type Store struct {
	db      *sql.DB
	dialect sqldialect.Dialect
	timeout time.Duration
}

type Option func(*Store)

// WithTxTimeout bounds transactions whose context has no deadline.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func New(db *sql.DB, dialect sqldialect.Dialect, opts ...Option) *Store {
	s := &Store{db: db, dialect: dialect, timeout: defaultTxTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// -----------------------------------------------------------------------------
// Attendance and roster
// -----------------------------------------------------------------------------

func (s *Store) GetAttendance(ctx context.Context, attendanceID id.AttendanceID) (*models.AttendanceRecord, error) {
	query := s.dialect.Rebind(`SELECT ` + attendanceColumns + ` FROM attendance_records WHERE id = ?`)
	row := sqldialect.Conn(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(attendanceID))
	return scanAttendance(row)
}

// PutAttendance inserts or replaces an attendance record. Check-in is owned
// elsewhere; this exists for seeding and tests.
func (s *Store) PutAttendance(ctx context.Context, record models.AttendanceRecord) error {
	query := s.dialect.Rebind(`
		INSERT INTO attendance_records (` + attendanceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			child_id = excluded.child_id,
			session_id = excluded.session_id,
			checked_in_at = excluded.checked_in_at,
			checked_out_at = excluded.checked_out_at,
			status = excluded.status
	`)
	_, err := sqldialect.Conn(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(record.ID),
		uuid.UUID(record.ChildID),
		uuid.UUID(record.SessionID),
		record.CheckedInAt.UTC(),
		sqldialect.NullTime(record.CheckedOutAt),
		string(record.Status),
	)
	if err != nil {
		return fmt.Errorf("upsert attendance record: %w", err)
	}
	return nil
}

// AddRosterEntry inserts a roster entry. Used for seeding and tests.
func (s *Store) AddRosterEntry(ctx context.Context, p models.AuthorizedPickupPerson) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	var personID uuid.NullUUID
	if !p.PersonID.IsNil() {
		personID = uuid.NullUUID{UUID: uuid.UUID(p.PersonID), Valid: true}
	}
	query := s.dialect.Rebind(`
		INSERT INTO authorized_pickup_persons (` + rosterColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := sqldialect.Conn(ctx, s.db).ExecContext(ctx, query,
		p.ID,
		uuid.UUID(p.ChildID),
		personID,
		p.DisplayName,
		string(p.Level),
		p.CodeRef,
		sqldialect.NullTime(p.EffectiveFrom),
		sqldialect.NullTime(p.EffectiveTo),
	)
	if err != nil {
		return fmt.Errorf("insert roster entry: %w", err)
	}
	return nil
}

func (s *Store) ListRoster(ctx context.Context, childID id.ChildID) ([]models.AuthorizedPickupPerson, error) {
	return queryRoster(ctx, sqldialect.Conn(ctx, s.db), s.dialect, childID)
}

func queryRoster(ctx context.Context, q sqldialect.Querier, dialect sqldialect.Dialect, childID id.ChildID) ([]models.AuthorizedPickupPerson, error) {
	query := dialect.Rebind(`
		SELECT ` + rosterColumns + `
		FROM authorized_pickup_persons
		WHERE child_id = ?
		ORDER BY display_name, id
	`)
	rows, err := q.QueryContext(ctx, query, uuid.UUID(childID))
	if err != nil {
		return nil, fmt.Errorf("query roster: %w", err)
	}
	defer rows.Close()

	roster := []models.AuthorizedPickupPerson{}
	for rows.Next() {
		var (
			p        models.AuthorizedPickupPerson
			personID uuid.NullUUID
			level    string
			from, to sqldialect.Time
		)
		err := rows.Scan(
			&p.ID,
			(*uuid.UUID)(&p.ChildID),
			&personID,
			&p.DisplayName,
			&level,
			&p.CodeRef,
			&from,
			&to,
		)
		if err != nil {
			return nil, fmt.Errorf("scan roster entry: %w", err)
		}
		if personID.Valid {
			p.PersonID = id.PersonID(personID.UUID)
		}
		p.Level = models.Level(level)
		p.EffectiveFrom = from.Ptr()
		p.EffectiveTo = to.Ptr()
		roster = append(roster, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roster: %w", err)
	}
	return roster, nil
}

// -----------------------------------------------------------------------------
// Ledger reads
// -----------------------------------------------------------------------------

func (s *Store) ListByChild(ctx context.Context, childID id.ChildID, from, to *time.Time) ([]models.PickupLogEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM pickup_log WHERE child_id = ?`
	args := []any{uuid.UUID(childID)}
	if from != nil {
		query += ` AND recorded_at >= ?`
		args = append(args, from.UTC())
	}
	if to != nil {
		query += ` AND recorded_at <= ?`
		args = append(args, to.UTC())
	}
	query += ` ORDER BY recorded_at DESC, seq DESC`

	rows, err := sqldialect.Conn(ctx, s.db).QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query pickup log by child: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *Store) ListByAttendance(ctx context.Context, attendanceID id.AttendanceID) ([]models.PickupLogEntry, error) {
	query := s.dialect.Rebind(`
		SELECT ` + entryColumns + `
		FROM pickup_log
		WHERE attendance_id = ?
		ORDER BY seq
	`)
	rows, err := sqldialect.Conn(ctx, s.db).QueryContext(ctx, query, uuid.UUID(attendanceID))
	if err != nil {
		return nil, fmt.Errorf("query pickup log by attendance: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// -----------------------------------------------------------------------------
// Scanning
// -----------------------------------------------------------------------------

type scanner interface {
	Scan(dest ...any) error
}

func scanAttendance(row scanner) (*models.AttendanceRecord, error) {
	var (
		record     models.AttendanceRecord
		checkedIn  sqldialect.Time
		checkedOut sqldialect.Time
		status     string
	)
	err := row.Scan(
		(*uuid.UUID)(&record.ID),
		(*uuid.UUID)(&record.ChildID),
		(*uuid.UUID)(&record.SessionID),
		&checkedIn,
		&checkedOut,
		&status,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan attendance record: %w", err)
	}
	record.CheckedInAt = checkedIn.Time
	record.CheckedOutAt = checkedOut.Ptr()
	record.Status = models.Status(status)
	return &record, nil
}

func scanEntry(row scanner) (*models.PickupLogEntry, error) {
	var (
		e            models.PickupLogEntry
		recordedAt   sqldialect.Time
		decision     string
		matchedLevel string
	)
	err := row.Scan(
		(*uuid.UUID)(&e.ID),
		(*uuid.UUID)(&e.AttendanceID),
		(*uuid.UUID)(&e.ChildID),
		&recordedAt,
		&e.PickupPersonName,
		&decision,
		&matchedLevel,
		(*uuid.UUID)(&e.StaffID),
		&e.OverrideJustification,
		&e.ResultedInCheckout,
		&e.IdempotencyKey,
		&e.ClientIP,
		&e.Device,
		&e.PrevHash,
		&e.Hash,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan pickup log entry: %w", err)
	}
	e.RecordedAt = recordedAt.Time
	e.Decision = models.Decision(decision)
	e.MatchedLevel = models.Level(matchedLevel)
	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]models.PickupLogEntry, error) {
	entries := []models.PickupLogEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pickup log: %w", err)
	}
	return entries, nil
}

// isUniqueViolation recognises duplicate keys from either driver.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(liteErr.Error(), "UNIQUE constraint failed")
		}
	}
	return false
}
