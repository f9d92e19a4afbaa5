package requestlimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"shepherd/internal/ratelimit/models"
	"shepherd/internal/ratelimit/service/mocks"
	"shepherd/internal/ratelimit/store/bucket"
	id "shepherd/pkg/domain"
	"shepherd/pkg/platform/audit"
	"shepherd/pkg/requestcontext"
)

type ThrottleSuite struct {
	suite.Suite
	now    time.Time
	logger *slog.Logger
	staff  id.StaffID
}

func TestThrottleSuite(t *testing.T) {
	suite.Run(t, new(ThrottleSuite))
}

func (s *ThrottleSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.staff = id.StaffID(uuid.New())
}

func (s *ThrottleSuite) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), s.now)
}

func (s *ThrottleSuite) newService(store *bucket.Store, opts ...Option) *Service {
	opts = append([]Option{WithLogger(s.logger)}, opts...)
	svc, err := New(store, opts...)
	s.Require().NoError(err)
	return svc
}

func (s *ThrottleSuite) TestStaffBucket() {
	svc := s.newService(bucket.New(), WithPolicy(models.RequestPolicy{PerStaff: 3, PerIP: 100, Window: time.Minute}))

	for range 3 {
		s.Require().True(svc.CheckBoth(s.ctx(), "198.51.100.7", s.staff).Allowed)
	}
	res := svc.CheckBoth(s.ctx(), "198.51.100.8", s.staff)
	s.False(res.Allowed, "a new IP does not reset the staff bucket")
	s.Equal(time.Minute, res.RetryAfter)

	other := svc.CheckBoth(s.ctx(), "198.51.100.7", id.StaffID(uuid.New()))
	s.True(other.Allowed)
}

func (s *ThrottleSuite) TestIPBucket() {
	s.Run("shared device is limited across staff", func() {
		svc := s.newService(bucket.New(), WithPolicy(models.RequestPolicy{PerStaff: 100, PerIP: 2, Window: time.Minute}))
		s.True(svc.CheckBoth(s.ctx(), "203.0.113.4", id.StaffID(uuid.New())).Allowed)
		s.True(svc.CheckBoth(s.ctx(), "203.0.113.4", id.StaffID(uuid.New())).Allowed)
		s.False(svc.CheckBoth(s.ctx(), "203.0.113.4", s.staff).Allowed)
	})

	s.Run("IP block does not charge the staff bucket", func() {
		store := bucket.New()
		svc := s.newService(store, WithPolicy(models.RequestPolicy{PerStaff: 5, PerIP: 1, Window: time.Minute}))
		svc.CheckBoth(s.ctx(), "203.0.113.4", s.staff)
		svc.CheckBoth(s.ctx(), "203.0.113.4", s.staff)
		s.Equal(1, store.Count(models.ThrottleKey(models.ScopeStaff, s.staff.String()), s.now))
	})

	s.Run("unknown IP is only staff limited", func() {
		store := bucket.New()
		svc := s.newService(store, WithPolicy(models.RequestPolicy{PerStaff: 5, PerIP: 1, Window: time.Minute}))
		s.True(svc.CheckBoth(s.ctx(), "", s.staff).Allowed)
		s.True(svc.CheckBoth(s.ctx(), "", s.staff).Allowed)
	})

	s.Run("IPv6 keys", func() {
		store := bucket.New()
		svc := s.newService(store)
		svc.CheckBoth(s.ctx(), "2001:db8::1", s.staff)
		s.Equal(1, store.Count("ip:2001_db8__1", s.now))
	})
}

func (s *ThrottleSuite) TestReportsMoreRestrictiveBucket() {
	svc := s.newService(bucket.New(), WithPolicy(models.RequestPolicy{PerStaff: 10, PerIP: 4, Window: time.Minute}))
	res := svc.CheckBoth(s.ctx(), "203.0.113.4", s.staff)
	s.True(res.Allowed)
	s.Equal(4, res.Limit)
	s.Equal(3, res.Remaining)
}

func (s *ThrottleSuite) TestBlockedRequestIsAudited() {
	ctrl := gomock.NewController(s.T())
	publisher := mocks.NewMockSecurityPublisher(ctrl)
	publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Do(func(_ context.Context, ev audit.SecurityEvent) {
		s.Equal(audit.EventVerifyThrottled, ev.Action)
		s.Equal(audit.SeverityWarning, ev.Severity)
		s.Equal(s.staff.String(), ev.Subject)
		s.Equal("staff_limit", ev.Reason)
	})

	svc := s.newService(bucket.New(),
		WithPolicy(models.RequestPolicy{PerStaff: 1, PerIP: 10, Window: time.Minute}),
		WithSecurityPublisher(publisher))
	svc.CheckBoth(s.ctx(), "", s.staff)
	s.False(svc.CheckBoth(s.ctx(), "", s.staff).Allowed)
}

func (s *ThrottleSuite) TestStoreFailureBlocks() {
	ctrl := gomock.NewController(s.T())
	store := mocks.NewMockBucketStore(ctrl)
	store.EXPECT().Allow(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), s.now).
		Return(models.ThrottleResult{}, errors.New("store down"))

	svc, err := New(store, WithLogger(s.logger))
	s.Require().NoError(err)
	res := svc.CheckBoth(s.ctx(), "203.0.113.4", s.staff)
	s.False(res.Allowed)
	s.Equal(degradedRetryAfter, res.RetryAfter)
}

func (s *ThrottleSuite) TestNewValidates() {
	_, err := New(nil)
	s.Error(err)
	_, err = New(bucket.New(), WithPolicy(models.RequestPolicy{PerStaff: 0, PerIP: 1, Window: time.Minute}))
	s.Error(err)
}
