//go:build integration

package sqlstore_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"shepherd/internal/platform/migrate"
	"shepherd/internal/ratelimit/store/sqlstore"
	id "shepherd/pkg/domain"
	"shepherd/pkg/platform/sqldialect"
	"shepherd/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *sqlstore.Store
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.Require().NoError(migrate.Up(context.Background(), s.postgres.DB, sqldialect.Postgres))
	s.store = sqlstore.New(s.postgres.DB, sqldialect.Postgres)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "verification_attempts"))
}

// Concurrent increments from many connections must yield distinct counts,
// so exactly MaxAttempts callers can observe a count within the limit.
func (s *PostgresStoreSuite) TestConcurrentIncrements() {
	ctx := context.Background()
	attendance := id.AttendanceID(uuid.New())
	now := time.Now().UTC()
	const goroutines = 50
	const limit = 5

	var wg sync.WaitGroup
	var allowed atomic.Int32
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := s.store.Increment(ctx, attendance, now, 15*time.Minute)
			s.Require().NoError(err)
			if a.Count <= limit {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(limit), allowed.Load())
}

func (s *PostgresStoreSuite) TestWindowReset() {
	ctx := context.Background()
	attendance := id.AttendanceID(uuid.New())
	start := time.Now().UTC().Truncate(time.Microsecond)

	for range 3 {
		_, err := s.store.Increment(ctx, attendance, start, time.Minute)
		s.Require().NoError(err)
	}
	a, err := s.store.Increment(ctx, attendance, start.Add(2*time.Minute), time.Minute)
	s.Require().NoError(err)
	s.Equal(1, a.Count)
}
