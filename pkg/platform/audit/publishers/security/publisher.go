// Package security provides a buffered, best-effort audit publisher.
//
// Emit never blocks the caller. Events are flushed to the store by Run in
// batches; when the buffer overflows the oldest events are dropped.
//
// Use for: rate limiter outages, denied access, ledger chain mismatches.
package security

import (
	"context"
	"log/slog"
	"time"

	audit "shepherd/pkg/platform/audit"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 500 * time.Millisecond
)

type Publisher struct {
	store         audit.Store
	buf           *ring
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration
	wake          chan struct{}
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

func WithCapacity(n int) Option {
	return func(p *Publisher) { p.buf = newRing(n) }
}

func WithFlushInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.flushInterval = d
		}
	}
}

func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:         store,
		buf:           newRing(defaultCapacity),
		logger:        slog.Default(),
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		wake:          make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit queues an event for persistence.
func (p *Publisher) Emit(_ context.Context, event audit.SecurityEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Severity == "" {
		event.Severity = audit.SeverityWarning
	}
	if p.buf.Push(event) {
		p.logger.Warn("security audit buffer full, dropped oldest event")
	}
	if p.buf.Len() >= p.batchSize {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
}

// Run flushes queued events until ctx is cancelled, then drains what is left.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.Flush(context.WithoutCancel(ctx))
			return nil
		case <-ticker.C:
			p.Flush(ctx)
		case <-p.wake:
			p.Flush(ctx)
		}
	}
}

// Flush writes every queued event. Events that fail to persist are logged
// and discarded.
func (p *Publisher) Flush(ctx context.Context) {
	for {
		batch := p.buf.Pop(p.batchSize)
		if len(batch) == 0 {
			return
		}
		for _, ev := range batch {
			if err := p.store.Append(ctx, ev.ToEvent()); err != nil {
				p.logger.ErrorContext(ctx, "failed to persist security audit event",
					"action", ev.Action,
					"subject", ev.Subject,
					"error", err,
				)
			}
		}
	}
}

// Pending reports how many events are waiting to be flushed.
func (p *Publisher) Pending() int { return p.buf.Len() }

// Dropped reports how many events were evicted because the buffer was full.
func (p *Publisher) Dropped() int64 { return p.buf.Dropped() }
