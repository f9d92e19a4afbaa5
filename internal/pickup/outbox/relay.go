// Package outbox relays committed pickup log entries to the export topic.
//
// Entries reach the outbox in the same transaction that appends them to the
// ledger. The relay publishes pending messages in commit order and marks them
// published afterwards, so delivery is at least once: a crash between the two
// steps republishes the tail of the last batch. Consumers dedupe on entry_id.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"shepherd/internal/pickup/metrics"
	"shepherd/internal/pickup/models"
)

const (
	defaultInterval  = 2 * time.Second
	defaultBatchSize = 100
	defaultRetention = 7 * 24 * time.Hour
)

// Store is the outbox side of the ledger database.
type Store interface {
	PendingOutbox(ctx context.Context, limit int) ([]models.OutboxMessage, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
	PurgePublished(ctx context.Context, cutoff time.Time) (int64, error)
}

// Publisher delivers one message. It returns only once the broker has
// acknowledged the write.
type Publisher interface {
	Publish(ctx context.Context, msg models.OutboxMessage) error
}

type Relay struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	interval  time.Duration
	batchSize int
	retention time.Duration
	now       func() time.Time
}

type Option func(*Relay)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithRetention sets how long published messages are kept before purging.
func WithRetention(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.retention = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Relay) {
		r.now = now
	}
}

func New(store Store, publisher Publisher, opts ...Option) (*Relay, error) {
	if store == nil {
		return nil, fmt.Errorf("outbox store is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher is required")
	}
	r := &Relay{
		store:     store,
		publisher: publisher,
		logger:    slog.Default(),
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
		retention: defaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run relays on every tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.ErrorContext(ctx, "outbox relay cycle failed", "error", err)
			}
			r.purge(ctx)
		}
	}
}

// RelayOnce drains pending messages batch by batch. Publishing stops at the
// first failure so a later message for the same attendance record is never
// delivered ahead of an earlier one.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	total := 0
	for {
		msgs, err := r.store.PendingOutbox(ctx, r.batchSize)
		if err != nil {
			return total, fmt.Errorf("load pending outbox: %w", err)
		}
		if len(msgs) == 0 {
			return total, nil
		}

		published := make([]uuid.UUID, 0, len(msgs))
		var publishErr error
		for _, msg := range msgs {
			if err := r.publisher.Publish(ctx, msg); err != nil {
				r.metrics.IncrementOutboxFailures()
				publishErr = fmt.Errorf("publish entry %s: %w", msg.EntryID, err)
				break
			}
			published = append(published, msg.ID)
		}

		if len(published) > 0 {
			if err := r.store.MarkPublished(ctx, published, r.now().UTC()); err != nil {
				return total, fmt.Errorf("mark outbox published: %w", err)
			}
			r.metrics.AddOutboxPublished(len(published))
			total += len(published)
		}
		if publishErr != nil {
			return total, publishErr
		}
		if len(msgs) < r.batchSize {
			return total, nil
		}
	}
}

func (r *Relay) purge(ctx context.Context) {
	n, err := r.store.PurgePublished(ctx, r.now().Add(-r.retention))
	if err != nil {
		r.logger.WarnContext(ctx, "outbox purge failed", "error", err)
		return
	}
	if n > 0 {
		r.logger.DebugContext(ctx, "outbox purged", "messages", n)
	}
}
