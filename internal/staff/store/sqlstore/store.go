package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"shepherd/internal/staff/models"
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

func (s *Store) Capabilities(ctx context.Context, staffID id.StaffID) (models.CapabilitySet, error) {
	rows, err := sqldialect.Conn(ctx, s.db).QueryContext(ctx,
		s.dialect.Rebind(`SELECT capability FROM staff_capabilities WHERE staff_id = ?`),
		uuid.UUID(staffID),
	)
	if err != nil {
		return nil, fmt.Errorf("query staff capabilities: %w", err)
	}
	defer rows.Close()

	set := models.NewCapabilitySet()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan staff capability: %w", err)
		}
		// unknown values from newer writers are ignored rather than granted
		if c := models.Capability(raw); c.IsValid() {
			set[c] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate staff capabilities: %w", err)
	}
	return set, nil
}

func (s *Store) Grant(ctx context.Context, staffID id.StaffID, caps ...models.Capability) error {
	query := s.dialect.Rebind(`
		INSERT INTO staff_capabilities (staff_id, capability) VALUES (?, ?)
		ON CONFLICT (staff_id, capability) DO NOTHING
	`)
	for _, c := range caps {
		if _, err := sqldialect.Conn(ctx, s.db).ExecContext(ctx, query, uuid.UUID(staffID), string(c)); err != nil {
			return fmt.Errorf("grant capability: %w", err)
		}
	}
	return nil
}

func (s *Store) Revoke(ctx context.Context, staffID id.StaffID, c models.Capability) error {
	_, err := sqldialect.Conn(ctx, s.db).ExecContext(ctx,
		s.dialect.Rebind(`DELETE FROM staff_capabilities WHERE staff_id = ? AND capability = ?`),
		uuid.UUID(staffID), string(c),
	)
	if err != nil {
		return fmt.Errorf("revoke capability: %w", err)
	}
	return nil
}
