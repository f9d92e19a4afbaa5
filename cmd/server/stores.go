package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	httpapi "shepherd/internal/http"
	"shepherd/internal/pickup/outbox"
	"shepherd/internal/pickup/ports"
	"shepherd/internal/pickup/seed"
	pickupmemory "shepherd/internal/pickup/store/memory"
	pickupsql "shepherd/internal/pickup/store/sqlstore"
	"shepherd/internal/platform/config"
	"shepherd/internal/platform/migrate"
	"shepherd/internal/platform/postgres"
	"shepherd/internal/platform/redis"
	"shepherd/internal/platform/sqlite"
	ratelimitports "shepherd/internal/ratelimit/ports"
	ratelimitmemory "shepherd/internal/ratelimit/store/memory"
	ratelimitredis "shepherd/internal/ratelimit/store/redis"
	ratelimitsql "shepherd/internal/ratelimit/store/sqlstore"
	staffservice "shepherd/internal/staff/service"
	staffmemory "shepherd/internal/staff/store/memory"
	staffsql "shepherd/internal/staff/store/sqlstore"
	"shepherd/pkg/platform/audit"
	auditmemory "shepherd/pkg/platform/audit/store/memory"
	auditsql "shepherd/pkg/platform/audit/store/sqlstore"
	"shepherd/pkg/platform/circuit"
	"shepherd/pkg/platform/sqldialect"
)

type ledgerStore interface {
	ports.AttendanceSource
	ports.RosterSource
	ports.Ledger
	seed.Target
}

type staffStore interface {
	staffservice.Store
	seed.Granter
}

// backend is every store the process needs, opened against one driver.
type backend struct {
	ledger   ledgerStore
	staff    staffStore
	audit    audit.Store
	counters ratelimitports.CounterStore
	// outbox is nil for the memory driver; nothing is exported then.
	outbox outbox.Store
	// sweep drops closed attempt windows.
	sweep   func(ctx context.Context, now time.Time) error
	health  map[string]httpapi.HealthCheck
	closers []func() error
}

func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	b := &backend{health: map[string]httpapi.HealthCheck{}}

	switch cfg.Store.Driver {
	case config.DriverMemory:
		b.openMemory(cfg)
	case config.DriverPostgres, config.DriverSQLite:
		if err := b.openSQL(ctx, cfg); err != nil {
			_ = b.Close()
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if cfg.Redis.Enabled() {
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.closers = append(b.closers, client.Close)
		b.health["redis"] = client.Health
		b.counters = ratelimitredis.New(client.Client, ratelimitredis.WithBreaker(
			circuit.New("ratelimit-redis",
				circuit.WithFailureThreshold(5),
				circuit.WithCooldown(10*time.Second),
			),
		))
		// Redis expires its own keys.
		b.sweep = nil
		logger.InfoContext(ctx, "verification attempts counted in redis")
	}
	return b, nil
}

func (b *backend) openMemory(cfg config.Config) {
	b.ledger = pickupmemory.New()
	b.staff = staffmemory.New()
	b.audit = auditmemory.NewInMemoryStore()

	counters := ratelimitmemory.New()
	b.counters = counters
	b.sweep = func(_ context.Context, now time.Time) error {
		counters.Sweep(now, cfg.Pickup.Window)
		return nil
	}
}

func (b *backend) openSQL(ctx context.Context, cfg config.Config) error {
	var (
		db      *sql.DB
		dialect sqldialect.Dialect
		err     error
	)
	if cfg.Store.Driver == config.DriverPostgres {
		db, err = postgres.Open(ctx, cfg.Store)
		dialect = sqldialect.Postgres
	} else {
		db, err = sqlite.Open(ctx, cfg.Store.SQLitePath)
		dialect = sqldialect.SQLite
	}
	if err != nil {
		return err
	}
	b.closers = append(b.closers, db.Close)
	b.health["store"] = db.PingContext

	if err := migrate.Up(ctx, db, dialect); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	ledger := pickupsql.New(db, dialect, pickupsql.WithTxTimeout(cfg.Store.TxTimeout))
	b.ledger = ledger
	b.outbox = ledger
	b.staff = staffsql.New(db, dialect)
	b.audit = auditsql.New(db, dialect)

	counters := ratelimitsql.New(db, dialect)
	b.counters = counters
	b.sweep = func(ctx context.Context, now time.Time) error {
		_, err := counters.DeleteExpired(ctx, now.Add(-cfg.Pickup.Window))
		return err
	}
	return nil
}
