package outbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shepherd/internal/pickup/models"
	"shepherd/internal/pickup/ports"
	"shepherd/internal/pickup/store/sqlstore"
	"shepherd/internal/platform/migrate"
	"shepherd/internal/platform/sqlite"
	id "shepherd/pkg/domain"
	"shepherd/pkg/platform/sqldialect"
)

func TestRelayOnce_SQLiteLedger(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrate.Up(ctx, db, sqldialect.SQLite))
	ledger := sqlstore.New(db, sqldialect.SQLite)

	now := time.Date(2026, 3, 1, 16, 0, 0, 0, time.UTC)
	record := models.AttendanceRecord{
		ID:          id.AttendanceID(uuid.New()),
		ChildID:     id.ChildID(uuid.New()),
		SessionID:   id.SessionID(uuid.New()),
		CheckedInAt: now.Add(-time.Hour),
		Status:      models.StatusCheckedIn,
	}
	require.NoError(t, ledger.PutAttendance(ctx, record))

	var (
		prev     *models.PickupLogEntry
		appended []id.EntryID
	)
	for _, key := range []string{"first", "second"} {
		entry := &models.PickupLogEntry{
			ID:               id.NewEntryID(),
			AttendanceID:     record.ID,
			ChildID:          record.ChildID,
			RecordedAt:       now,
			PickupPersonName: "P1",
			Decision:         models.DecisionDenied,
			StaffID:          id.StaffID(uuid.New()),
			IdempotencyKey:   key,
		}
		models.Seal(entry, prev)
		require.NoError(t, ledger.RunInTx(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
			return tx.AppendEntry(ctx, entry)
		}))
		prev = entry
		appended = append(appended, entry.ID)
	}

	producer := &recordingProducer{}
	relay, err := New(ledger, NewKafkaPublisher(producer, ""), WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	n, err := relay.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, producer.records, 2)

	var exported models.LogExport
	require.NoError(t, json.Unmarshal(producer.records[0].Value, &exported))
	assert.Equal(t, appended[0].String(), exported.EntryID)
	assert.NotEmpty(t, exported.Hash)
	assert.Equal(t, record.ID.String(), string(producer.records[1].Key))

	n, err = relay.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "published messages are not sent again")

	purged, err := ledger.PurgePublished(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 2, purged)
}
