package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"shepherd/internal/pickup/models"
	"shepherd/internal/pickup/ports"
	id "shepherd/pkg/domain"
	dErrors "shepherd/pkg/domain-errors"
	"shepherd/pkg/platform/sentinel"
	"shepherd/pkg/platform/sqldialect"
)

// RunInTx runs fn inside a database transaction. The context handed to fn
// carries the transaction, so audit rows written through it commit or roll
// back with the ledger writes.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ports.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(sqldialect.WithTx(ctx, tx), &ledgerTx{tx: tx, dialect: s.dialect}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger transaction: %w", err)
	}
	return nil
}

type ledgerTx struct {
	tx      *sql.Tx
	dialect sqldialect.Dialect
}

func (t *ledgerTx) LockAttendance(ctx context.Context, attendanceID id.AttendanceID) (*models.AttendanceRecord, error) {
	query := t.dialect.Rebind(`SELECT ` + attendanceColumns + ` FROM attendance_records WHERE id = ?` + t.dialect.ForUpdate())
	return scanAttendance(t.tx.QueryRowContext(ctx, query, uuid.UUID(attendanceID)))
}

func (t *ledgerTx) FindByIdempotencyKey(ctx context.Context, key string) (*models.PickupLogEntry, error) {
	query := t.dialect.Rebind(`SELECT ` + entryColumns + ` FROM pickup_log WHERE idempotency_key = ?`)
	return scanEntry(t.tx.QueryRowContext(ctx, query, key))
}

func (t *ledgerTx) ListRoster(ctx context.Context, childID id.ChildID) ([]models.AuthorizedPickupPerson, error) {
	return queryRoster(ctx, t.tx, t.dialect, childID)
}

func (t *ledgerTx) LastEntry(ctx context.Context, attendanceID id.AttendanceID) (*models.PickupLogEntry, error) {
	query := t.dialect.Rebind(`
		SELECT ` + entryColumns + `
		FROM pickup_log
		WHERE attendance_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`)
	return scanEntry(t.tx.QueryRowContext(ctx, query, uuid.UUID(attendanceID)))
}

// AppendEntry inserts the entry and its export message.
func (t *ledgerTx) AppendEntry(ctx context.Context, e *models.PickupLogEntry) error {
	query := t.dialect.Rebind(`
		INSERT INTO pickup_log (` + entryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := t.tx.ExecContext(ctx, query,
		uuid.UUID(e.ID),
		uuid.UUID(e.AttendanceID),
		uuid.UUID(e.ChildID),
		e.RecordedAt.UTC(),
		e.PickupPersonName,
		string(e.Decision),
		string(e.MatchedLevel),
		uuid.UUID(e.StaffID),
		e.OverrideJustification,
		e.ResultedInCheckout,
		e.IdempotencyKey,
		e.ClientIP,
		e.Device,
		e.PrevHash,
		e.Hash,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("append pickup log entry: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("append pickup log entry: %w", err)
	}

	msg, err := models.NewOutboxMessage(e)
	if err != nil {
		return fmt.Errorf("build export message: %w", err)
	}
	query = t.dialect.Rebind(`
		INSERT INTO pickup_outbox (` + outboxColumns + `)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	_, err = t.tx.ExecContext(ctx, query, msg.ID, msg.EntryID, msg.Topic, msg.Key, msg.Payload, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueue export message: %w", err)
	}
	return nil
}

// MarkCheckedOut is a compare-and-set on status; zero rows means the record
// was not checked in.
func (t *ledgerTx) MarkCheckedOut(ctx context.Context, attendanceID id.AttendanceID, at time.Time) error {
	query := t.dialect.Rebind(`
		UPDATE attendance_records
		SET status = 'checked_out', checked_out_at = ?
		WHERE id = ? AND status = 'checked_in'
	`)
	res, err := t.tx.ExecContext(ctx, query, at.UTC(), uuid.UUID(attendanceID))
	if err != nil {
		return fmt.Errorf("mark attendance checked out: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark attendance checked out: %w", err)
	}
	if n == 0 {
		return sentinel.ErrConflict
	}
	return nil
}
