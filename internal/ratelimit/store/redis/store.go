package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"shepherd/internal/ratelimit/models"
	id "shepherd/pkg/domain"
	"shepherd/pkg/platform/circuit"
	"shepherd/pkg/platform/sentinel"
)

const keyPrefix = "shepherd:pickup:verify:"

// incrementScript opens the window on the first attempt and reports the
// remaining TTL in one round trip. A key without a TTL (left behind by a
// crash between INCR and PEXPIRE) is given one.
var incrementScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// Client is the part of go-redis the store uses.
type Client interface {
	redis.Scripter
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Store keeps attempt counters in Redis so every instance shares them.
type Store struct {
	client  Client
	breaker *circuit.Breaker
}

type Option func(*Store)

// WithBreaker short-circuits calls while Redis is failing. Callers still
// see an error, so the limiter keeps blocking.
func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Store) { s.breaker = b }
}

func New(client Client, opts ...Option) *Store {
	s := &Store{client: client, breaker: circuit.New("ratelimit-redis")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Increment(ctx context.Context, attendanceID id.AttendanceID, now time.Time, window time.Duration) (models.Attempt, error) {
	if !s.breaker.Allow() {
		return models.Attempt{}, fmt.Errorf("redis circuit open: %w", sentinel.ErrUnavailable)
	}

	res, err := incrementScript.Run(ctx, s.client, []string{keyPrefix + attendanceID.String()}, window.Milliseconds()).Int64Slice()
	if err != nil {
		s.breaker.RecordFailure()
		return models.Attempt{}, fmt.Errorf("increment attempt counter: %w", err)
	}
	s.breaker.RecordSuccess()
	if len(res) != 2 {
		return models.Attempt{}, fmt.Errorf("unexpected script reply length %d", len(res))
	}

	ttl := time.Duration(res[1]) * time.Millisecond
	resetAt := now.Add(ttl)
	return models.Attempt{
		AttendanceID: attendanceID,
		Count:        int(res[0]),
		WindowStart:  resetAt.Add(-window),
		ResetAt:      resetAt,
	}, nil
}

func (s *Store) Reset(ctx context.Context, attendanceID id.AttendanceID) error {
	if !s.breaker.Allow() {
		return fmt.Errorf("redis circuit open: %w", sentinel.ErrUnavailable)
	}
	if err := s.client.Del(ctx, keyPrefix+attendanceID.String()).Err(); err != nil {
		s.breaker.RecordFailure()
		return fmt.Errorf("reset attempt counter: %w", err)
	}
	s.breaker.RecordSuccess()
	return nil
}
