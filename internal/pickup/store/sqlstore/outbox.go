package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"shepherd/internal/pickup/models"
	"shepherd/pkg/platform/sqldialect"
)

// PendingOutbox returns unpublished export messages in commit order.
func (s *Store) PendingOutbox(ctx context.Context, limit int) ([]models.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxBatch
	}
	query := s.dialect.Rebind(`
		SELECT ` + outboxColumns + `
		FROM pickup_outbox
		WHERE published_at IS NULL
		ORDER BY seq
		LIMIT ?
	`)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var msgs []models.OutboxMessage
	for rows.Next() {
		var (
			msg       models.OutboxMessage
			createdAt sqldialect.Time
		)
		if err := rows.Scan(&msg.ID, &msg.EntryID, &msg.Topic, &msg.Key, &msg.Payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		msg.CreatedAt = createdAt.Time
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return msgs, nil
}

// MarkPublished acknowledges delivered messages in one statement.
func (s *Store) MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	strIDs := make([]string, len(ids))
	for i, msgID := range ids {
		strIDs[i] = msgID.String()
	}

	var (
		query string
		args  []any
	)
	switch s.dialect {
	case sqldialect.Postgres:
		query = `UPDATE pickup_outbox SET published_at = $1 WHERE id = ANY($2::uuid[]) AND published_at IS NULL`
		args = []any{at.UTC(), pq.Array(strIDs)}
	default:
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(strIDs)), ",")
		query = `UPDATE pickup_outbox SET published_at = ? WHERE id IN (` + placeholders + `) AND published_at IS NULL`
		args = append(args, at.UTC())
		for _, v := range strIDs {
			args = append(args, v)
		}
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

// PurgePublished deletes acknowledged messages older than cutoff.
func (s *Store) PurgePublished(ctx context.Context, cutoff time.Time) (int64, error) {
	query := s.dialect.Rebind(`DELETE FROM pickup_outbox WHERE published_at IS NOT NULL AND published_at < ?`)
	res, err := s.db.ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge outbox: %w", err)
	}
	return res.RowsAffected()
}
