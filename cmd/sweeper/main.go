// Package main is the entry point for the Stride background sweeper.
//
// It runs the trial sweep and the webhook ledger retention sweep on their
// configured intervals, sharing one Postgres pool, until a shutdown signal
// arrives. The sweeps also run once at startup so a freshly deployed
// sweeper catches up immediately instead of waiting a full interval.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"stride/internal/config"
	"stride/internal/db"
	"stride/internal/entitlement"
	"stride/internal/scheduler"
	"stride/internal/subscription"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("stride sweeper starting",
		"environment", cfg.Environment,
		"trial_interval", cfg.Sweep.TrialInterval,
		"ledger_interval", cfg.Sweep.LedgerInterval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poolCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := newPool(poolCtx, cfg)
	cancel()
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	subRepo := db.NewSubscriptionRepo(pool, logger)
	ledgerRepo := db.NewLedgerRepo(pool, logger)
	goalRepo := db.NewGoalRepo(pool)

	catalog := entitlement.NewStaticCatalog()
	resolver := entitlement.NewResolver(catalog, time.Now)
	// The sweeper applies events only; it never opens checkout sessions.
	svc := subscription.NewService(subRepo, nil, goalRepo, resolver, time.Now, logger)

	trialSweep := scheduler.NewTrialSweepService(subRepo, svc, logger)
	ledgerSweep := scheduler.NewLedgerRetentionService(
		ledgerRepo,
		cfg.Sweep.LedgerRetention,
		cfg.Sweep.LedgerRetryBudget,
		logger,
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runEvery(ctx, cfg.Sweep.TrialInterval, func(now time.Time) {
			if _, err := trialSweep.Run(ctx, now); err != nil {
				logger.Error("trial sweep pass failed", "error", err)
			}
		})
	})

	g.Go(func() error {
		return runEvery(ctx, cfg.Sweep.LedgerInterval, func(now time.Time) {
			if _, err := ledgerSweep.Run(ctx, now); err != nil {
				logger.Error("ledger retention pass failed", "error", err)
			}
		})
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Info("sweeper stopped cleanly")
		return nil
	}
	return err
}

// runEvery invokes fn immediately and then on every tick until the context
// ends. Pass failures are fn's concern; only cancellation stops the loop.
func runEvery(ctx context.Context, interval time.Duration, fn func(now time.Time)) error {
	fn(time.Now())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			fn(now)
		}
	}
}

func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.Database.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
