// Package subscription implements the subscription lifecycle core: the
// closed event vocabulary, the pure state machine over subscription records,
// the optimistic read-apply-write service, checkout initiation, and the
// webhook ingestion gateway.
package subscription

import (
	"time"

	"stride/internal/types"
)

// Event is the closed vocabulary consumed by the state machine. Provider
// payload shapes never reach the machine: the webhook gateway maps them into
// one of the concrete types below, and user actions construct them directly.
type Event interface {
	// Name identifies the event in logs and transition errors.
	Name() string

	// event seals the set so the machine's switch is exhaustive.
	event()
}

// TrialExpiredTick marks a trial whose window has lapsed. Emitted by the
// trial sweep; the entitlement resolver applies the same judgment lazily on
// reads without emitting anything.
type TrialExpiredTick struct{}

func (TrialExpiredTick) Name() string { return "trial_expired_tick" }
func (TrialExpiredTick) event()       {}

// CheckoutCompleted confirms a paid subscription after the user completes
// the provider checkout flow. Valid from any status: re-subscription of a
// Canceled or Expired account is modeled as a fresh checkout, never a
// self-transition.
type CheckoutCompleted struct {
	Tier            types.Tier
	Cycle           types.BillingCycle
	CustomerRef     string
	SubscriptionRef string
	PeriodEnd       time.Time
}

func (CheckoutCompleted) Name() string { return "checkout_completed" }
func (CheckoutCompleted) event()       {}

// PaymentSucceeded advances the billing horizon and clears a past-due state.
type PaymentSucceeded struct {
	PeriodEnd time.Time
}

func (PaymentSucceeded) Name() string { return "payment_succeeded" }
func (PaymentSucceeded) event()       {}

// PaymentFailed records a failed renewal. The grace-period policy lives in
// the entitlement resolver, not here.
type PaymentFailed struct{}

func (PaymentFailed) Name() string { return "payment_failed" }
func (PaymentFailed) event()       {}

// ProviderCanceled reflects a cancellation decided on the provider side
// (dunning exhaustion, chargeback, support action).
type ProviderCanceled struct{}

func (ProviderCanceled) Name() string { return "provider_subscription_canceled" }
func (ProviderCanceled) event()       {}

// UserCancelRequested is an in-app cancellation of an active subscription or
// a running trial.
type UserCancelRequested struct{}

func (UserCancelRequested) Name() string { return "user_cancel_requested" }
func (UserCancelRequested) event()       {}

// PlanChangeRequested swaps tier and cycle, either immediately or deferred
// to period end.
type PlanChangeRequested struct {
	NewTier          types.Tier
	NewCycle         types.BillingCycle
	DeferToPeriodEnd bool
}

func (PlanChangeRequested) Name() string { return "plan_change_requested" }
func (PlanChangeRequested) event()       {}
