package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"shepherd/internal/ratelimit/models"
	"shepherd/internal/ratelimit/service/mocks"
	"shepherd/internal/ratelimit/store/memory"
	id "shepherd/pkg/domain"
	"shepherd/pkg/platform/audit"
	"shepherd/pkg/requestcontext"
)

//go:generate mockgen -source=../ports/ports.go -destination=mocks/mocks.go -package=mocks CounterStore,BucketStore,SecurityPublisher

type LimiterSuite struct {
	suite.Suite
	start  time.Time
	logger *slog.Logger
}

func TestLimiterSuite(t *testing.T) {
	suite.Run(t, new(LimiterSuite))
}

func (s *LimiterSuite) SetupTest() {
	s.start = time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *LimiterSuite) at(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func (s *LimiterSuite) newLimiter(opts ...Option) *Service {
	opts = append([]Option{WithLogger(s.logger)}, opts...)
	svc, err := New(memory.New(), opts...)
	s.Require().NoError(err)
	return svc
}

// -----------------------------------------------------------------------------
// Threshold
// -----------------------------------------------------------------------------

func (s *LimiterSuite) TestThreshold() {
	s.Run("five attempts allowed, sixth blocked with remaining lock", func() {
		limiter := s.newLimiter()
		attendance := id.AttendanceID(uuid.New())

		for i := 1; i <= 5; i++ {
			d := limiter.CheckAndIncrement(s.at(s.start.Add(time.Duration(i)*time.Minute)), attendance)
			s.Require().True(d.Allowed(), "attempt %d", i)
			s.Equal(5-i, d.Remaining)
		}

		d := limiter.CheckAndIncrement(s.at(s.start.Add(6*time.Minute)), attendance)
		s.False(d.Allowed())
		s.Equal(models.OutcomeBlocked, d.Outcome)
		// window opened at +1m so it closes at +16m
		s.Equal(10*time.Minute, d.RetryAfter)
	})

	s.Run("blocked attempts do not extend the window", func() {
		limiter := s.newLimiter()
		attendance := id.AttendanceID(uuid.New())

		for range 8 {
			limiter.CheckAndIncrement(s.at(s.start), attendance)
		}
		d := limiter.CheckAndIncrement(s.at(s.start.Add(14*time.Minute)), attendance)
		s.False(d.Allowed())
		s.Equal(time.Minute, d.RetryAfter)
	})

	s.Run("counters are per attendance record", func() {
		limiter := s.newLimiter()
		a := id.AttendanceID(uuid.New())
		b := id.AttendanceID(uuid.New())
		for range 6 {
			limiter.CheckAndIncrement(s.at(s.start), a)
		}
		s.True(limiter.CheckAndIncrement(s.at(s.start), b).Allowed())
	})
}

// -----------------------------------------------------------------------------
// Window reset
// -----------------------------------------------------------------------------

func (s *LimiterSuite) TestWindowReset() {
	s.Run("count resets once now is past window start plus window", func() {
		limiter := s.newLimiter()
		attendance := id.AttendanceID(uuid.New())

		for range 6 {
			limiter.CheckAndIncrement(s.at(s.start), attendance)
		}

		exactlyAtEnd := limiter.CheckAndIncrement(s.at(s.start.Add(15*time.Minute)), attendance)
		s.False(exactlyAtEnd.Allowed(), "boundary instant is still inside the window")

		after := limiter.CheckAndIncrement(s.at(s.start.Add(15*time.Minute+time.Millisecond)), attendance)
		s.True(after.Allowed())
		s.Equal(1, after.Attempts)
	})

	s.Run("custom policy", func() {
		limiter := s.newLimiter(WithPolicy(models.Policy{MaxAttempts: 2, Window: time.Minute}))
		attendance := id.AttendanceID(uuid.New())

		s.True(limiter.CheckAndIncrement(s.at(s.start), attendance).Allowed())
		s.True(limiter.CheckAndIncrement(s.at(s.start), attendance).Allowed())
		s.False(limiter.CheckAndIncrement(s.at(s.start), attendance).Allowed())
	})
}

// -----------------------------------------------------------------------------
// Fail closed
// -----------------------------------------------------------------------------

func (s *LimiterSuite) TestStoreFailureBlocks() {
	ctrl := gomock.NewController(s.T())
	store := mocks.NewMockCounterStore(ctrl)
	publisher := mocks.NewMockSecurityPublisher(ctrl)
	attendance := id.AttendanceID(uuid.New())

	store.EXPECT().
		Increment(gomock.Any(), attendance, s.start, 15*time.Minute).
		Return(models.Attempt{}, errors.New("connection refused"))
	publisher.EXPECT().
		Emit(gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, ev audit.SecurityEvent) {
			s.Equal(audit.EventRateLimiterUnavailable, ev.Action)
			s.Equal(attendance.String(), ev.Subject)
		})

	limiter, err := New(store, WithLogger(s.logger), WithSecurityPublisher(publisher))
	s.Require().NoError(err)

	d := limiter.CheckAndIncrement(s.at(s.start), attendance)
	s.False(d.Allowed())
	s.True(d.Degraded())
	s.Positive(d.RetryAfter)
}

func (s *LimiterSuite) TestReset() {
	s.Run("clears an exhausted record", func() {
		limiter := s.newLimiter()
		attendance := id.AttendanceID(uuid.New())
		for range 6 {
			limiter.CheckAndIncrement(s.at(s.start), attendance)
		}
		s.Require().False(limiter.CheckAndIncrement(s.at(s.start), attendance).Allowed())

		s.Require().NoError(limiter.Reset(s.at(s.start), attendance))

		d := limiter.CheckAndIncrement(s.at(s.start.Add(time.Second)), attendance)
		s.True(d.Allowed())
		s.Equal(4, d.Remaining)
	})

	s.Run("store failure is returned", func() {
		ctrl := gomock.NewController(s.T())
		store := mocks.NewMockCounterStore(ctrl)
		attendance := id.AttendanceID(uuid.New())
		store.EXPECT().Reset(gomock.Any(), attendance).Return(errors.New("connection refused"))

		limiter, err := New(store, WithLogger(s.logger))
		s.Require().NoError(err)
		s.Error(limiter.Reset(s.at(s.start), attendance))
	})
}

// -----------------------------------------------------------------------------
// Concurrency
// -----------------------------------------------------------------------------

func (s *LimiterSuite) TestConcurrentAttemptsAreCountedAtomically() {
	limiter := s.newLimiter()
	attendance := id.AttendanceID(uuid.New())

	const goroutines = 40
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.CheckAndIncrement(s.at(s.start), attendance).Allowed() {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Equal(5, allowed)
}

func (s *LimiterSuite) TestNewValidation() {
	_, err := New(nil)
	s.Error(err)

	_, err = New(memory.New(), WithPolicy(models.Policy{MaxAttempts: 0, Window: time.Minute}))
	s.Error(err)
}
