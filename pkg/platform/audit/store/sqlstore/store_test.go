package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shepherd/internal/platform/migrate"
	"shepherd/internal/platform/sqlite"
	audit "shepherd/pkg/platform/audit"
	"shepherd/pkg/platform/sqldialect"
)

func TestStore_SQLite(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrate.Up(ctx, db, sqldialect.SQLite))

	store := New(db, sqldialect.SQLite)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, action := range []audit.AuditEvent{audit.EventPickupVerificationEvaluated, audit.EventPickupRecorded} {
		require.NoError(t, store.Append(ctx, audit.Event{
			Category:  audit.CategoryCompliance,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			ActorID:   "staff-1",
			Subject:   "attendance-1",
			Action:    string(action),
			Decision:  "authorized",
			ClientIP:  "10.0.0.9",
		}))
	}
	require.NoError(t, store.Append(ctx, audit.Event{
		Category:  audit.CategorySecurity,
		Timestamp: base,
		Subject:   "attendance-2",
		Action:    string(audit.EventRateLimiterUnavailable),
	}))

	events, err := store.ListBySubject(ctx, "attendance-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, string(audit.EventPickupRecorded), events[0].Action)
	assert.True(t, base.Add(time.Minute).Equal(events[0].Timestamp))
	assert.Equal(t, "10.0.0.9", events[0].ClientIP)

	recent, err := store.ListRecent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "attendance-1", recent[0].Subject)
}
