package types

import "time"

// SubscriptionRecord is the durable billing state for one account. There is
// exactly one record per account, created at account creation in Trial status
// and superseded in place for the life of the account. All mutation goes
// through the subscription state machine; repositories persist the result
// under optimistic version control.
type SubscriptionRecord struct {
	AccountID    string             `json:"account_id"`
	Tier         Tier               `json:"tier"`
	Status       SubscriptionStatus `json:"status"`
	BillingCycle BillingCycle       `json:"billing_cycle"`

	// Trial window. Set once at trial creation, never mutated afterward.
	TrialStart *time.Time `json:"trial_start,omitempty"`
	TrialEnd   *time.Time `json:"trial_end,omitempty"`

	// Paid term markers.
	SubscriptionStart *time.Time `json:"subscription_start,omitempty"`
	SubscriptionEnd   *time.Time `json:"subscription_end,omitempty"`

	// NextBillingAt is advanced only by successful-payment events.
	NextBillingAt *time.Time `json:"next_billing_at,omitempty"`

	// Opaque correlation identifiers for the billing provider. Set once,
	// replaced only by an explicit re-subscription (CheckoutCompleted).
	ExternalCustomerRef     string `json:"external_customer_ref,omitempty"`
	ExternalSubscriptionRef string `json:"external_subscription_ref,omitempty"`

	// PendingPlanChange holds a deferred upgrade/downgrade. At most one may
	// exist at a time; applying it clears it.
	PendingPlanChange *PendingPlanChange `json:"pending_plan_change,omitempty"`

	// Version increments on every accepted transition. It is the sole
	// concurrency-control mechanism: writers compare-and-swap on it.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PendingPlanChange describes a tier/cycle swap deferred to period end.
type PendingPlanChange struct {
	NewTier     Tier         `json:"new_tier"`
	NewCycle    BillingCycle `json:"new_cycle"`
	EffectiveAt time.Time    `json:"effective_at"`
}

// IsPaidStatus reports whether the record's status implies an active
// relationship with the billing provider.
func (r *SubscriptionRecord) IsPaidStatus() bool {
	return r.Status == SubStatusActive || r.Status == SubStatusPastDue
}

// EntitlementDecision is the derived, never-persisted answer to "can this
// capability be used now". Limit of -1 means unlimited.
type EntitlementDecision struct {
	Allowed      bool   `json:"allowed"`
	Reason       string `json:"reason,omitempty"`
	Limit        int    `json:"limit"`
	CurrentUsage int    `json:"current_usage"`
}

// UsageSnapshot carries the live usage counts the entitlement resolver needs.
// It is supplied by the caller (e.g., a count query against the goals table),
// never fetched by the resolver itself.
type UsageSnapshot struct {
	ActiveGoals int `json:"active_goals"`
}

// CountFor returns the usage count relevant to the given countable capability.
func (u UsageSnapshot) CountFor(cap Capability) int {
	switch cap {
	case CapGoalCreate:
		return u.ActiveGoals
	default:
		return 0
	}
}

// WebhookEventRecord is one row of the idempotency ledger. Applied flips to
// true only after the state machine transition commits; unapplied rows older
// than the retry budget are surfaced for manual reconciliation.
type WebhookEventRecord struct {
	ExternalEventID string    `json:"external_event_id"`
	EventType       string    `json:"event_type"`
	ReceivedAt      time.Time `json:"received_at"`
	Applied         bool      `json:"applied"`
}

// StatusSummary is the UI-facing view of an account's subscription.
type StatusSummary struct {
	Tier              Tier               `json:"tier"`
	Status            SubscriptionStatus `json:"status"`
	IsInTrial         bool               `json:"is_in_trial"`
	DaysUntilTrialEnd int                `json:"days_until_trial_end"`
	RenewalDate       *time.Time         `json:"renewal_date,omitempty"`
}

// CheckoutHandle is the provider session reference returned by checkout
// initiation. The record itself is only mutated when the corresponding
// CheckoutCompleted webhook arrives.
type CheckoutHandle struct {
	SessionID   string    `json:"session_id"`
	CheckoutURL string    `json:"checkout_url"`
	ExpiresAt   time.Time `json:"expires_at"`
}
