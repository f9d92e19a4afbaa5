//go:build integration

package sqlstore_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"shepherd/internal/pickup/codehash"
	"shepherd/internal/pickup/models"
	"shepherd/internal/pickup/service"
	"shepherd/internal/pickup/store/sqlstore"
	"shepherd/internal/platform/migrate"
	ratelimit "shepherd/internal/ratelimit/service"
	ratelimitsql "shepherd/internal/ratelimit/store/sqlstore"
	staffmodels "shepherd/internal/staff/models"
	staff "shepherd/internal/staff/service"
	staffsql "shepherd/internal/staff/store/sqlstore"
	id "shepherd/pkg/domain"
	dErrors "shepherd/pkg/domain-errors"
	"shepherd/pkg/platform/audit/publishers/compliance"
	auditsql "shepherd/pkg/platform/audit/store/sqlstore"
	"shepherd/pkg/platform/sqldialect"
	"shepherd/pkg/testutil"
	"shepherd/pkg/testutil/containers"
)

type PostgresLedgerSuite struct {
	suite.Suite
	postgres   *containers.PostgresContainer
	ledger     *sqlstore.Store
	svc        *service.Service
	matcher    *codehash.Matcher
	volunteer  id.StaffID
	supervisor id.StaffID
	now        time.Time
	record     models.AttendanceRecord
}

func TestPostgresLedgerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresLedgerSuite))
}

func (s *PostgresLedgerSuite) SetupSuite() {
	ctx := context.Background()
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.Require().NoError(migrate.Up(ctx, s.postgres.DB, sqldialect.Postgres))
	s.ledger = sqlstore.New(s.postgres.DB, sqldialect.Postgres)

	var err error
	s.matcher, err = codehash.New("postgres-pepper")
	s.Require().NoError(err)
}

func (s *PostgresLedgerSuite) SetupTest() {
	ctx := context.Background()
	db := s.postgres.DB
	s.Require().NoError(s.postgres.TruncateTables(ctx,
		"pickup_outbox", "pickup_log", "authorized_pickup_persons", "attendance_records",
		"audit_events", "staff_capabilities", "verification_attempts",
	))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	staffStore := staffsql.New(db, sqldialect.Postgres)
	s.volunteer = id.StaffID(uuid.New())
	s.supervisor = id.StaffID(uuid.New())
	s.Require().NoError(staffStore.Grant(ctx, s.volunteer, staffmodels.CapabilityCheckInVolunteer))
	s.Require().NoError(staffStore.Grant(ctx, s.supervisor, staffmodels.CapabilityCheckInVolunteer, staffmodels.CapabilitySupervisor))
	caps, err := staff.New(staffStore, logger)
	s.Require().NoError(err)

	limiter, err := ratelimit.New(ratelimitsql.New(db, sqldialect.Postgres), ratelimit.WithLogger(logger))
	s.Require().NoError(err)

	s.svc, err = service.New(service.Deps{
		Attendance:   s.ledger,
		Roster:       s.ledger,
		Ledger:       s.ledger,
		Limiter:      limiter,
		Matcher:      s.matcher,
		Capabilities: caps,
		Auditor:      compliance.New(auditsql.New(db, sqldialect.Postgres)),
	}, service.WithLogger(logger))
	s.Require().NoError(err)

	s.now = time.Now().UTC().Truncate(time.Second)
	s.record = models.AttendanceRecord{
		ID:          id.AttendanceID(uuid.New()),
		ChildID:     id.ChildID(uuid.New()),
		SessionID:   id.SessionID(uuid.New()),
		CheckedInAt: s.now.Add(-2 * time.Hour),
		Status:      models.StatusCheckedIn,
	}
	s.Require().NoError(s.ledger.PutAttendance(ctx, s.record))
	s.Require().NoError(s.ledger.AddRosterEntry(ctx, models.AuthorizedPickupPerson{
		ChildID:     s.record.ChildID,
		DisplayName: "P1",
		Level:       models.LevelAuthorized,
		CodeRef:     s.matcher.Hash("1234"),
	}))
}

func (s *PostgresLedgerSuite) release(key string) models.RecordPickupCommand {
	return models.RecordPickupCommand{
		AttendanceID:     s.record.ID,
		PickupPersonName: "P1",
		WasAuthorized:    true,
		ActingStaffID:    s.volunteer,
		MatchedLevel:     models.LevelAuthorized,
		IdempotencyKey:   key,
	}
}

func (s *PostgresLedgerSuite) TestVerifyThenRelease() {
	ctx := testutil.StaffContext(s.volunteer, s.now)

	result, err := s.svc.Verify(ctx, models.VerifyCommand{
		AttendanceID:     s.record.ID,
		PresentedCode:    "1234",
		PickupPersonName: "P1",
	})
	s.Require().NoError(err)
	s.True(result.IsAuthorized)

	recorded, err := s.svc.RecordPickup(ctx, s.release("pg-1"))
	s.Require().NoError(err)
	s.True(recorded.Entry.ResultedInCheckout)

	record, err := s.ledger.GetAttendance(context.Background(), s.record.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusCheckedOut, record.Status)

	history, err := s.svc.GetHistory(testutil.StaffContext(s.supervisor, s.now), s.supervisor, models.HistoryQuery{
		ChildID: s.record.ChildID,
	})
	s.Require().NoError(err)
	s.Require().Len(history.Entries, 1)
	s.True(history.Intact())

	pending, err := s.ledger.PendingOutbox(context.Background(), 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(s.record.ID.String(), pending[0].Key)
}

// Releases race on separate pooled connections; the row lock admits one.
func (s *PostgresLedgerSuite) TestConcurrentReleaseCommitsOnce() {
	const callers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.RecordPickup(testutil.StaffContext(s.volunteer, s.now), s.release(uuid.NewString()))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case dErrors.HasCode(err, dErrors.CodeConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	s.Equal(1, succeeded)
	s.Equal(callers-1, conflicts)

	entries, err := s.ledger.ListByAttendance(context.Background(), s.record.ID)
	s.Require().NoError(err)
	s.Len(entries, 1)
	s.NoError(models.VerifyChain(entries))
}

func (s *PostgresLedgerSuite) TestConcurrentReplaySameKey() {
	const callers = 5
	var wg sync.WaitGroup
	hashes := make(chan string, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.svc.RecordPickup(testutil.StaffContext(s.volunteer, s.now), s.release("pg-same"))
			if err == nil {
				hashes <- res.Entry.Hash
			}
		}()
	}
	wg.Wait()
	close(hashes)

	seen := map[string]int{}
	for h := range hashes {
		seen[h]++
	}
	s.Len(seen, 1, "every caller sees the same committed entry")

	entries, err := s.ledger.ListByAttendance(context.Background(), s.record.ID)
	s.Require().NoError(err)
	s.Len(entries, 1)
}
