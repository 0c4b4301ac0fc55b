package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"stride/internal/entitlement"
	"stride/internal/types"
)

// SubscriptionRepo is the durable store for subscription records. One row
// exists per account (primary key account_id); rows are created at account
// creation, superseded in place by the state machine, and hard-deleted only
// as part of full account erasure.
//
// All writes go through UpdateVersioned, which enforces optimistic
// concurrency on the version column. There is no pessimistic locking and no
// cross-record transaction; each account's record is independent.
type SubscriptionRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewSubscriptionRepo creates a SubscriptionRepo backed by the given
// database connection (pool or transaction).
func NewSubscriptionRepo(db DBTX, logger *slog.Logger) *SubscriptionRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionRepo{db: db, logger: logger}
}

const subscriptionColumns = `account_id, tier, status, billing_cycle,
	 trial_start, trial_end, subscription_start, subscription_end,
	 next_billing_at, external_customer_ref, external_subscription_ref,
	 pending_new_tier, pending_new_cycle, pending_effective_at,
	 version, created_at, updated_at`

// CreateTrial inserts the initial Trial record for a new account with the
// standard 14-day window. Called once from the account-creation hook.
func (r *SubscriptionRepo) CreateTrial(ctx context.Context, accountID string, now time.Time) (*types.SubscriptionRecord, error) {
	trialEnd := now.Add(entitlement.TrialDuration)

	rec := &types.SubscriptionRecord{
		AccountID:    accountID,
		Tier:         types.TierFreeTrial,
		Status:       types.SubStatusTrial,
		BillingCycle: types.CycleMonthly,
		TrialStart:   &now,
		TrialEnd:     &trialEnd,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO subscriptions
		   (account_id, tier, status, billing_cycle, trial_start, trial_end,
		    version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.AccountID, rec.Tier, rec.Status, rec.BillingCycle,
		rec.TrialStart, rec.TrialEnd, rec.Version, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to create trial subscription", err)
	}
	return rec, nil
}

// GetByAccount loads the subscription record for the given account.
func (r *SubscriptionRepo) GetByAccount(ctx context.Context, accountID string) (*types.SubscriptionRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions WHERE account_id = $1`,
		accountID,
	)
	return scanSubscription(row, accountID)
}

// UpdateVersioned persists a record produced by the state machine, requiring
// that the stored version still equals expectedVersion (the version the
// caller read before applying). Zero rows affected means a concurrent writer
// won the race; the caller must re-read and re-apply.
func (r *SubscriptionRepo) UpdateVersioned(ctx context.Context, rec *types.SubscriptionRecord, expectedVersion int64) error {
	var pendingTier, pendingCycle *string
	var pendingAt *time.Time
	if pc := rec.PendingPlanChange; pc != nil {
		t, c := string(pc.NewTier), string(pc.NewCycle)
		pendingTier, pendingCycle = &t, &c
		at := pc.EffectiveAt
		pendingAt = &at
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET tier = $1,
		     status = $2,
		     billing_cycle = $3,
		     subscription_start = $4,
		     subscription_end = $5,
		     next_billing_at = $6,
		     external_customer_ref = $7,
		     external_subscription_ref = $8,
		     pending_new_tier = $9,
		     pending_new_cycle = $10,
		     pending_effective_at = $11,
		     version = $12,
		     updated_at = $13
		 WHERE account_id = $14
		   AND version = $15`,
		rec.Tier, rec.Status, rec.BillingCycle,
		rec.SubscriptionStart, rec.SubscriptionEnd, rec.NextBillingAt,
		nullIfEmpty(rec.ExternalCustomerRef), nullIfEmpty(rec.ExternalSubscriptionRef),
		pendingTier, pendingCycle, pendingAt,
		rec.Version, rec.UpdatedAt,
		rec.AccountID, expectedVersion,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription", err)
	}

	if tag.RowsAffected() == 0 {
		r.logger.InfoContext(ctx, "subscription version conflict",
			"account_id", rec.AccountID,
			"expected_version", expectedVersion,
		)
		return types.NewAppError(
			types.ErrCodeConflictConcurrent,
			"subscription was modified concurrently",
			nil,
		)
	}
	return nil
}

// DeleteByAccount hard-deletes the record as part of full account erasure.
// This is the only path that removes a subscription row.
func (r *SubscriptionRepo) DeleteByAccount(ctx context.Context, accountID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM subscriptions WHERE account_id = $1`, accountID)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete subscription", err)
	}
	return nil
}

// ListLapsedTrialAccounts returns account IDs still stored as Trial whose
// window ended before now. Used by the trial sweep; the limit bounds one
// sweep pass.
func (r *SubscriptionRepo) ListLapsedTrialAccounts(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT account_id FROM subscriptions
		 WHERE status = 'trial' AND trial_end < $1
		 ORDER BY trial_end
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list lapsed trials", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan lapsed trial row", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate lapsed trial rows", err)
	}
	return ids, nil
}

// scanSubscription maps one row onto a SubscriptionRecord, reassembling the
// pending plan change from its three nullable columns.
func scanSubscription(row pgx.Row, accountID string) (*types.SubscriptionRecord, error) {
	var rec types.SubscriptionRecord
	var customerRef, subscriptionRef *string
	var pendingTier, pendingCycle *string
	var pendingAt *time.Time

	err := row.Scan(
		&rec.AccountID, &rec.Tier, &rec.Status, &rec.BillingCycle,
		&rec.TrialStart, &rec.TrialEnd, &rec.SubscriptionStart, &rec.SubscriptionEnd,
		&rec.NextBillingAt, &customerRef, &subscriptionRef,
		&pendingTier, &pendingCycle, &pendingAt,
		&rec.Version, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(
				types.ErrCodeNotFoundSubscription,
				"no subscription record for account "+accountID,
				nil,
			)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load subscription", err)
	}

	if customerRef != nil {
		rec.ExternalCustomerRef = *customerRef
	}
	if subscriptionRef != nil {
		rec.ExternalSubscriptionRef = *subscriptionRef
	}
	if pendingTier != nil && pendingCycle != nil && pendingAt != nil {
		rec.PendingPlanChange = &types.PendingPlanChange{
			NewTier:     types.Tier(*pendingTier),
			NewCycle:    types.BillingCycle(*pendingCycle),
			EffectiveAt: *pendingAt,
		}
	}
	return &rec, nil
}

// nullIfEmpty maps "" to NULL so unset provider refs stay NULL in storage.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
