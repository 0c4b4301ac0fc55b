package subscription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"stride/internal/entitlement"
	"stride/internal/external"
	"stride/internal/types"
)

// maxApplyAttempts bounds the optimistic read-apply-write retry loop. Three
// attempts is enough for the rare webhook/user-action collision; persistent
// conflict is surfaced to the caller instead of spinning.
const maxApplyAttempts = 3

// RecordStore is the persistence surface the service needs. Implemented by
// db.SubscriptionRepo; tests supply a mock.
type RecordStore interface {
	CreateTrial(ctx context.Context, accountID string, now time.Time) (*types.SubscriptionRecord, error)
	GetByAccount(ctx context.Context, accountID string) (*types.SubscriptionRecord, error)
	UpdateVersioned(ctx context.Context, rec *types.SubscriptionRecord, expectedVersion int64) error
	DeleteByAccount(ctx context.Context, accountID string) error
}

// CheckoutProvider opens hosted checkout sessions at the billing provider.
// Implemented by external.StripeClient.
type CheckoutProvider interface {
	CreateCheckoutSession(ctx context.Context, accountID string, tier types.Tier, cycle types.BillingCycle, urls external.RedirectURLs) (*types.CheckoutHandle, error)
}

// UsageSource supplies live usage counts for countable capabilities.
// Implemented by db.GoalRepo.
type UsageSource interface {
	CountActive(ctx context.Context, accountID string) (int, error)
}

// Service coordinates subscription lifecycle operations: it loads the
// record, runs the state machine, and persists the result under optimistic
// version control. It is the single write path for subscription state; the
// webhook gateway and the HTTP handlers both go through it.
type Service struct {
	records  RecordStore
	provider CheckoutProvider
	usage    UsageSource
	resolver *entitlement.Resolver
	now      types.Clock
	logger   *slog.Logger
}

// NewService creates a Service. The now function may be nil, in which case
// time.Now is used.
func NewService(
	records RecordStore,
	provider CheckoutProvider,
	usage UsageSource,
	resolver *entitlement.Resolver,
	now types.Clock,
	logger *slog.Logger,
) *Service {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		records:  records,
		provider: provider,
		usage:    usage,
		resolver: resolver,
		now:      now,
		logger:   logger,
	}
}

// CreateTrial provisions the initial trial record for a new account. Called
// from the account-creation hook, never from billing flows.
func (s *Service) CreateTrial(ctx context.Context, accountID string) (*types.SubscriptionRecord, error) {
	return s.records.CreateTrial(ctx, accountID, s.now())
}

// DeleteAccountData removes the account's subscription record as part of
// full account erasure.
func (s *Service) DeleteAccountData(ctx context.Context, accountID string) error {
	return s.records.DeleteByAccount(ctx, accountID)
}

// ApplyEvent runs one event through the state machine for the given account
// and persists the accepted transition.
//
// The read-apply-write cycle retries on version conflict: a concurrent
// writer invalidates the read, so the record is re-loaded and the event
// re-applied against the fresh state. Invalid transitions are returned
// immediately; they will not become valid by retrying against the same
// state.
func (s *Service) ApplyEvent(ctx context.Context, accountID string, ev Event) (*types.SubscriptionRecord, error) {
	var lastErr error

	for attempt := 0; attempt < maxApplyAttempts; attempt++ {
		rec, err := s.records.GetByAccount(ctx, accountID)
		if err != nil {
			return nil, err
		}

		next, err := Apply(*rec, ev, s.now)
		if err != nil {
			return nil, err
		}

		err = s.records.UpdateVersioned(ctx, &next, rec.Version)
		if err == nil {
			s.logger.InfoContext(ctx, "subscription transition applied",
				"account_id", accountID,
				"event", ev.Name(),
				"from_status", rec.Status,
				"to_status", next.Status,
				"version", next.Version,
			)
			return &next, nil
		}

		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictConcurrent {
			lastErr = err
			continue
		}
		return nil, err
	}

	s.logger.WarnContext(ctx, "subscription transition gave up after version conflicts",
		"account_id", accountID,
		"event", ev.Name(),
		"attempts", maxApplyAttempts,
	)
	return nil, lastErr
}

// Cancel performs an in-app cancellation of the account's trial or active
// subscription.
func (s *Service) Cancel(ctx context.Context, accountID string) (*types.SubscriptionRecord, error) {
	return s.ApplyEvent(ctx, accountID, UserCancelRequested{})
}

// RequestPlanChange requests a tier/cycle swap, deferred to period end or
// applied immediately. Only paid tiers are valid targets.
func (s *Service) RequestPlanChange(ctx context.Context, accountID string, newTier types.Tier, newCycle types.BillingCycle, deferToPeriodEnd bool) (*types.SubscriptionRecord, error) {
	if !newTier.IsPaid() {
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidTier,
			"plan changes target paid tiers only",
			nil,
		)
	}
	return s.ApplyEvent(ctx, accountID, PlanChangeRequested{
		NewTier:          newTier,
		NewCycle:         newCycle,
		DeferToPeriodEnd: deferToPeriodEnd,
	})
}

// StartCheckout opens a provider checkout session for a paid tier. The local
// record is read for validation only; it is mutated exclusively by the
// CheckoutCompleted webhook, so an abandoned session leaves no trace.
func (s *Service) StartCheckout(ctx context.Context, accountID string, tier types.Tier, cycle types.BillingCycle, urls external.RedirectURLs) (*types.CheckoutHandle, error) {
	if !tier.IsPaid() {
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidTier,
			"checkout requires a paid tier",
			nil,
		)
	}

	rec, err := s.records.GetByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if rec.Status == types.SubStatusActive && rec.Tier == tier && rec.BillingCycle == cycle {
		return nil, types.NewAppError(
			types.ErrCodeCheckoutRedundant,
			"subscription is already active on the requested plan",
			nil,
		)
	}

	handle, err := s.provider.CreateCheckoutSession(ctx, accountID, tier, cycle, urls)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "checkout session created",
		"account_id", accountID,
		"tier", tier,
		"billing_cycle", cycle,
		"session_id", handle.SessionID,
	)
	return handle, nil
}

// GetStatusSummary returns the UI-facing view of the account's subscription,
// with lazy trial expiry applied.
func (s *Service) GetStatusSummary(ctx context.Context, accountID string) (*types.StatusSummary, error) {
	rec, err := s.records.GetByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	summary := s.resolver.Summarize(rec)
	return &summary, nil
}

// CheckEntitlement answers whether the account may use the capability right
// now, fetching live usage only when the capability is countable.
func (s *Service) CheckEntitlement(ctx context.Context, accountID string, cap types.Capability) (*types.EntitlementDecision, error) {
	rec, err := s.records.GetByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var usage types.UsageSnapshot
	if types.CountableCapabilities[cap] {
		count, err := s.usage.CountActive(ctx, accountID)
		if err != nil {
			return nil, err
		}
		usage.ActiveGoals = count
	}

	decision := s.resolver.Resolve(rec, cap, usage)
	return &decision, nil
}
