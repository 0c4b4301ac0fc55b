// Package scheduler implements the periodic jobs behind the billing core:
// the trial sweep that expires lapsed trials and the ledger retention sweep
// that reaps old webhook rows and surfaces stuck ones.
//
// Services take the reference time as a parameter so runs are deterministic
// in tests and replayable for backfill. Batch sizes are fixed so one pass
// stays bounded regardless of backlog.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"stride/internal/subscription"
	"stride/internal/types"
)

// trialSweepBatchSize bounds one trial sweep pass.
const trialSweepBatchSize = 500

// unappliedReportLimit bounds how many stuck ledger rows one pass reports.
const unappliedReportLimit = 100

// TrialSweepDB lists trials whose window has lapsed.
//
// SQL: SELECT account_id FROM subscriptions
//
//	WHERE status = 'trial' AND trial_end < $1 LIMIT $2
type TrialSweepDB interface {
	ListLapsedTrialAccounts(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// TrialSweepStats summarizes one trial sweep pass.
type TrialSweepStats struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// TrialSweepService expires trials whose window has lapsed. It is the
// write-side counterpart of the resolver's lazy expiry: reads never persist
// the expiry, the sweep does, so dormant accounts converge to Expired
// without anyone logging in.
type TrialSweepService struct {
	db      TrialSweepDB
	applier subscription.EventApplier
	logger  *slog.Logger
}

// NewTrialSweepService creates a TrialSweepService.
func NewTrialSweepService(db TrialSweepDB, applier subscription.EventApplier, logger *slog.Logger) *TrialSweepService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TrialSweepService{db: db, applier: applier, logger: logger}
}

// Run executes one sweep pass at the given reference time.
//
// Each lapsed trial goes through the state machine individually, so a race
// with a concurrent checkout or cancellation is resolved by the machine:
// the tick is simply rejected for a record that left Trial between the list
// and the apply, and the account is skipped. Per-account failures are
// counted and logged, never fatal to the pass.
func (s *TrialSweepService) Run(ctx context.Context, now time.Time) (TrialSweepStats, error) {
	var stats TrialSweepStats

	accountIDs, err := s.db.ListLapsedTrialAccounts(ctx, now, trialSweepBatchSize)
	if err != nil {
		return stats, err
	}
	stats.Scanned = len(accountIDs)

	for _, accountID := range accountIDs {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		_, err := s.applier.ApplyEvent(ctx, accountID, subscription.TrialExpiredTick{})
		if err == nil {
			stats.Expired++
			continue
		}

		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeInvalidTransition {
			// The record left Trial between the list and the apply.
			s.logger.InfoContext(ctx, "trial sweep skipped account",
				"account_id", accountID,
				"details", appErr.Details,
			)
			stats.Skipped++
			continue
		}

		s.logger.ErrorContext(ctx, "trial sweep failed for account",
			"account_id", accountID,
			"error", err,
		)
		stats.Failed++
	}

	s.logger.InfoContext(ctx, "trial sweep pass complete",
		"scanned", stats.Scanned,
		"expired", stats.Expired,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
	)
	return stats, nil
}

// LedgerRetentionDB is the ledger maintenance surface.
type LedgerRetentionDB interface {
	// DeleteAppliedBefore reaps applied ledger rows received before cutoff.
	//
	// SQL: DELETE FROM webhook_events WHERE applied = TRUE AND received_at < $1
	DeleteAppliedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// ListUnappliedBefore returns rows accepted before cutoff whose effect
	// never landed.
	ListUnappliedBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.WebhookEventRecord, error)
}

// LedgerRetentionService keeps the webhook ledger bounded. Applied rows
// older than the retention window are reaped; unapplied rows older than the
// retry budget are error-logged for manual reconciliation, since the
// provider has stopped redelivering them by then.
type LedgerRetentionService struct {
	db          LedgerRetentionDB
	retention   time.Duration
	retryBudget time.Duration
	logger      *slog.Logger
}

// NewLedgerRetentionService creates a LedgerRetentionService with the given
// retention window for applied rows and retry budget for unapplied ones.
func NewLedgerRetentionService(db LedgerRetentionDB, retention, retryBudget time.Duration, logger *slog.Logger) *LedgerRetentionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerRetentionService{
		db:          db,
		retention:   retention,
		retryBudget: retryBudget,
		logger:      logger,
	}
}

// LedgerRetentionStats summarizes one retention pass.
type LedgerRetentionStats struct {
	Reaped int64 `json:"reaped"`
	Stuck  int   `json:"stuck"`
}

// Run executes one retention pass at the given reference time.
func (s *LedgerRetentionService) Run(ctx context.Context, now time.Time) (LedgerRetentionStats, error) {
	var stats LedgerRetentionStats

	reaped, err := s.db.DeleteAppliedBefore(ctx, now.Add(-s.retention))
	if err != nil {
		return stats, err
	}
	stats.Reaped = reaped

	stuck, err := s.db.ListUnappliedBefore(ctx, now.Add(-s.retryBudget), unappliedReportLimit)
	if err != nil {
		return stats, err
	}
	stats.Stuck = len(stuck)

	for _, rec := range stuck {
		s.logger.ErrorContext(ctx, "webhook event stuck unapplied past retry budget",
			"external_event_id", rec.ExternalEventID,
			"event_type", rec.EventType,
			"received_at", rec.ReceivedAt,
		)
	}

	s.logger.InfoContext(ctx, "ledger retention pass complete",
		"reaped", stats.Reaped,
		"stuck", stats.Stuck,
	)
	return stats, nil
}
