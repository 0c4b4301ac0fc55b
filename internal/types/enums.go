package types

// Tier identifies the purchased plan level for an account.
// Tier is distinct from SubscriptionStatus: a Pro account may be active,
// past due, or canceled, but it is still a Pro account until a transition
// says otherwise.
type Tier string

const (
	TierFreeTrial Tier = "free_trial"
	TierBasic     Tier = "basic"
	TierPro       Tier = "pro"
	TierElite     Tier = "elite"
)

// IsPaid reports whether the tier is purchasable. The trial pseudo-tier is
// assigned at account creation and can never be bought or changed to.
func (t Tier) IsPaid() bool {
	switch t {
	case TierBasic, TierPro, TierElite:
		return true
	default:
		return false
	}
}

// ParseTier validates a wire-level tier string.
func ParseTier(s string) (Tier, bool) {
	switch Tier(s) {
	case TierFreeTrial, TierBasic, TierPro, TierElite:
		return Tier(s), true
	default:
		return "", false
	}
}

// SubscriptionStatus represents the lifecycle state of the billing
// relationship for an account.
type SubscriptionStatus string

const (
	SubStatusTrial    SubscriptionStatus = "trial"
	SubStatusActive   SubscriptionStatus = "active"
	SubStatusPastDue  SubscriptionStatus = "past_due"
	SubStatusCanceled SubscriptionStatus = "canceled"
	SubStatusExpired  SubscriptionStatus = "expired"
)

// BillingCycle defines the renewal cadence of a paid subscription.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

// ParseBillingCycle validates a wire-level billing cycle string.
func ParseBillingCycle(s string) (BillingCycle, bool) {
	switch BillingCycle(s) {
	case CycleMonthly, CycleYearly:
		return BillingCycle(s), true
	default:
		return "", false
	}
}

// Capability is a named feature gate checked by the entitlement resolver.
// Boolean capabilities are either in a tier's capability set or not;
// countable capabilities additionally carry a numeric limit in the catalog.
type Capability string

const (
	// CapGoalCreate is countable: limited by the tier's goal limit.
	CapGoalCreate Capability = "goal_create"

	// Boolean capabilities.
	CapDirectMessages Capability = "direct_messages"
	CapPrivateRooms   Capability = "private_rooms"
	CapAnalytics      Capability = "analytics"

	// CapAll is the catalog wildcard: a tier whose capability set contains
	// CapAll grants every boolean capability.
	CapAll Capability = "all"
)

// CountableCapabilities enumerates the capabilities that are enforced by a
// numeric limit rather than set membership.
var CountableCapabilities = map[Capability]bool{
	CapGoalCreate: true,
}

// ParseCapability validates a wire-level capability name. The wildcard is a
// catalog-internal marker and is not accepted from the wire.
func ParseCapability(s string) (Capability, bool) {
	switch Capability(s) {
	case CapGoalCreate, CapDirectMessages, CapPrivateRooms, CapAnalytics:
		return Capability(s), true
	default:
		return "", false
	}
}

// WebhookHandleStatus is the outcome of ingesting one provider notification.
type WebhookHandleStatus string

const (
	// WebhookAccepted means the event was applied (or acknowledged as an
	// unrecognized type) for the first time.
	WebhookAccepted WebhookHandleStatus = "accepted"
	// WebhookDuplicate means the event id was already applied; the state
	// machine did not run again.
	WebhookDuplicate WebhookHandleStatus = "duplicate"
	// WebhookRejected means signature verification failed; the ledger was
	// not touched.
	WebhookRejected WebhookHandleStatus = "rejected"
)
