// Package sqlstore persists audit events to the audit_events table on
// PostgreSQL or SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	audit "shepherd/pkg/platform/audit"
	"shepherd/pkg/platform/sqldialect"

	"github.com/google/uuid"
)

type Store struct {
	db      *sql.DB
	dialect sqldialect.Dialect
}

func New(db *sql.DB, dialect sqldialect.Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Append inserts the event. When a transaction is present in ctx the insert
// joins it, so an audit row commits or rolls back with the action it describes.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	query := s.dialect.Rebind(`
		INSERT INTO audit_events (
			id, category, occurred_at, actor_id, subject, action,
			decision, reason, request_id, client_ip
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := sqldialect.Conn(ctx, s.db).ExecContext(ctx, query,
		uuid.NewString(),
		string(event.Category),
		event.Timestamp.UTC(),
		event.ActorID,
		event.Subject,
		event.Action,
		event.Decision,
		event.Reason,
		event.RequestID,
		event.ClientIP,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListBySubject returns events for a specific subject, newest first.
func (s *Store) ListBySubject(ctx context.Context, subject string) ([]audit.Event, error) {
	query := s.dialect.Rebind(`
		SELECT category, occurred_at, actor_id, subject, action,
			   decision, reason, request_id, client_ip
		FROM audit_events
		WHERE subject = ?
		ORDER BY occurred_at DESC, seq DESC
	`)
	rows, err := s.db.QueryContext(ctx, query, subject)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListRecent returns the N most recent events.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	query := s.dialect.Rebind(`
		SELECT category, occurred_at, actor_id, subject, action,
			   decision, reason, request_id, client_ip
		FROM audit_events
		ORDER BY occurred_at DESC, seq DESC
		LIMIT ?
	`)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event

	for rows.Next() {
		var (
			category   string
			occurredAt sqldialect.Time
			event      audit.Event
		)
		err := rows.Scan(
			&category,
			&occurredAt,
			&event.ActorID,
			&event.Subject,
			&event.Action,
			&event.Decision,
			&event.Reason,
			&event.RequestID,
			&event.ClientIP,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Category = audit.EventCategory(category)
		event.Timestamp = occurredAt.Time
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
