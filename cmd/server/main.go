package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	httpapi "shepherd/internal/http"
	jwttoken "shepherd/internal/jwt_token"
	"shepherd/internal/pickup/codehash"
	"shepherd/internal/pickup/handler"
	pickupmetrics "shepherd/internal/pickup/metrics"
	"shepherd/internal/pickup/outbox"
	"shepherd/internal/pickup/seed"
	pickupservice "shepherd/internal/pickup/service"
	"shepherd/internal/platform/config"
	"shepherd/internal/platform/httpserver"
	"shepherd/internal/platform/kafka"
	"shepherd/internal/platform/logger"
	"shepherd/internal/platform/metrics"
	"shepherd/internal/platform/otel"
	ratelimitmetrics "shepherd/internal/ratelimit/metrics"
	ratelimitmiddleware "shepherd/internal/ratelimit/middleware"
	ratelimitmodels "shepherd/internal/ratelimit/models"
	ratelimit "shepherd/internal/ratelimit/service"
	"shepherd/internal/ratelimit/service/requestlimit"
	"shepherd/internal/ratelimit/store/bucket"
	staffservice "shepherd/internal/staff/service"
	"shepherd/pkg/platform/audit/publishers/compliance"
	"shepherd/pkg/platform/audit/publishers/security"
)

const (
	topicPartitions = 3
	sweepInterval   = time.Minute
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal service packages.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "shepherd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.Server.Environment, cfg.Server.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.WithoutCancel(ctx)); err != nil {
			log.Error("tracer shutdown failed", "error", err)
		}
	}()

	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Error("closing stores failed", "error", err)
		}
	}()

	securityEvents := security.New(b.audit, security.WithLogger(log))
	auditor := compliance.New(b.audit,
		compliance.WithLogger(log),
		compliance.WithMetrics(compliance.NewMetrics()),
	)

	limitMetrics := ratelimitmetrics.New()
	limiter, err := ratelimit.New(b.counters,
		ratelimit.WithLogger(log),
		ratelimit.WithMetrics(limitMetrics),
		ratelimit.WithSecurityPublisher(securityEvents),
		ratelimit.WithPolicy(ratelimitmodels.Policy{
			MaxAttempts: cfg.Pickup.MaxAttempts,
			Window:      cfg.Pickup.Window,
		}),
	)
	if err != nil {
		return err
	}
	buckets := bucket.New()
	throttle, err := requestlimit.New(buckets,
		requestlimit.WithLogger(log),
		requestlimit.WithMetrics(limitMetrics),
		requestlimit.WithSecurityPublisher(securityEvents),
		requestlimit.WithPolicy(ratelimitmodels.RequestPolicy{
			PerStaff: cfg.Pickup.ThrottlePerStaff,
			PerIP:    cfg.Pickup.ThrottlePerIP,
			Window:   cfg.Pickup.ThrottleWindow,
		}),
	)
	if err != nil {
		return err
	}
	matcher, err := codehash.New(cfg.Pickup.CodePepper)
	if err != nil {
		return err
	}
	caps, err := staffservice.New(b.staff, log)
	if err != nil {
		return err
	}

	pickupMetrics := pickupmetrics.New()
	svc, err := pickupservice.New(pickupservice.Deps{
		Attendance:   b.ledger,
		Roster:       b.ledger,
		Ledger:       b.ledger,
		Limiter:      limiter,
		Matcher:      matcher,
		Capabilities: caps,
		Auditor:      auditor,
	},
		pickupservice.WithLogger(log),
		pickupservice.WithMetrics(pickupMetrics),
		pickupservice.WithSecurityPublisher(securityEvents),
	)
	if err != nil {
		return err
	}

	if cfg.SeedDemo {
		f, err := seed.Demo(ctx, b.ledger, b.staff, matcher, time.Now())
		if err != nil {
			return err
		}
		log.Info("demo data seeded",
			"attendance_id", f.AttendanceID.String(),
			"child_id", f.ChildID.String(),
			"volunteer_id", f.Volunteer.String(),
			"supervisor_id", f.Supervisor.String(),
		)
	}

	relay, closeRelay, err := newRelay(ctx, cfg, b, log, pickupMetrics)
	if err != nil {
		return err
	}
	defer closeRelay()

	tokens := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, cfg.Server.JWTAudience)
	pickupRoutes := handler.New(svc, caps, log,
		handler.WithVerifyThrottle(ratelimitmiddleware.Throttle(throttle)),
	)
	router := httpapi.NewRouter(httpapi.Deps{
		Logger:         log,
		Validator:      jwttoken.NewJWTServiceAdapter(tokens),
		Metrics:        metrics.NewHTTP(),
		RequestTimeout: cfg.Server.RequestTimeout,
		Health:         b.health,
		Modules:        []httpapi.RouteRegistrar{pickupRoutes},
	})
	srv := httpserver.New(cfg.Server, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting shepherd",
			"addr", cfg.Server.Addr,
			"env", cfg.Server.Environment,
			"store", string(cfg.Store.Driver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})
	g.Go(func() error { return securityEvents.Run(gctx) })
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}
	g.Go(func() error { return sweepLimits(gctx, b.sweep, buckets, log) })

	return g.Wait()
}

// newRelay exports the pickup outbox to Kafka. It returns a nil relay when
// the store has no outbox or no brokers are configured.
func newRelay(ctx context.Context, cfg config.Config, b *backend, log *slog.Logger, m *pickupmetrics.Metrics) (*outbox.Relay, func(), error) {
	noop := func() {}
	if b.outbox == nil {
		if cfg.Kafka.Enabled() {
			log.Warn("kafka brokers configured but the memory store keeps no outbox")
		}
		return nil, noop, nil
	}
	client, err := kafka.NewClient(cfg.Kafka)
	if err != nil {
		return nil, noop, err
	}
	if client == nil {
		log.Info("no kafka brokers configured; pickup log exports stay in the outbox")
		return nil, noop, nil
	}
	if err := kafka.EnsureTopic(ctx, client, cfg.Kafka.Topic, topicPartitions); err != nil {
		client.Close()
		return nil, noop, err
	}

	relay, err := outbox.New(b.outbox, outbox.NewKafkaPublisher(client, cfg.Kafka.Topic),
		outbox.WithLogger(log),
		outbox.WithMetrics(m),
		outbox.WithInterval(cfg.Kafka.RelayInterval),
		outbox.WithBatchSize(cfg.Kafka.RelayBatch),
	)
	if err != nil {
		client.Close()
		return nil, noop, err
	}
	return relay, client.Close, nil
}

// sweepLimits drops idle throttle buckets and, when the counter store needs
// it, expired attempt counters.
func sweepLimits(ctx context.Context, sweep func(context.Context, time.Time) error, buckets *bucket.Store, log *slog.Logger) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if n := buckets.Sweep(now); n > 0 {
				log.Debug("throttle buckets swept", "removed", n)
			}
			if sweep == nil {
				continue
			}
			if err := sweep(ctx, now); err != nil && ctx.Err() == nil {
				log.Warn("attempt counter sweep failed", "error", err)
			}
		}
	}
}
