package entitlement

import (
	"fmt"
	"time"

	"stride/internal/types"
)

// Resolver answers "can this capability be used now" for a subscription
// record. It sits on the hot path of every protected request: its only
// inputs are the freshly-read record, the wall clock, and a caller-supplied
// usage snapshot. It never performs I/O and never persists anything -- a
// lapsed trial is treated as expired for the decision only, leaving the
// stored status and version untouched for the sweep or a later webhook to
// correct.
type Resolver struct {
	catalog Catalog
	now     types.Clock
}

// NewResolver creates a Resolver over the given catalog. The now function
// may be nil, in which time.Now is used; tests inject a fixed clock.
func NewResolver(catalog Catalog, now types.Clock) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{catalog: catalog, now: now}
}

// Resolve computes the entitlement decision for one capability.
//
// Decision order:
//  1. A Trial record past its window is treated as Expired (read-only).
//  2. Statuses outside {Trial, Active, PastDue} deny everything.
//  3. Boolean capabilities: allowed iff the tier's set grants them
//     (wildcard included). PastDue keeps already-granted booleans.
//  4. Countable capabilities: allowed iff the limit is unlimited or usage
//     is below it. PastDue denies creation of new countable resources --
//     the grace-period policy degrades gracefully instead of locking the
//     account out.
func (r *Resolver) Resolve(record *types.SubscriptionRecord, cap types.Capability, usage types.UsageSnapshot) types.EntitlementDecision {
	effective := record.Status
	if effective == types.SubStatusTrial && TrialExpired(record.TrialEnd, r.now()) {
		effective = types.SubStatusExpired
	}

	switch effective {
	case types.SubStatusTrial, types.SubStatusActive, types.SubStatusPastDue:
		// Fall through to the catalog.
	default:
		return types.EntitlementDecision{
			Allowed: false,
			Reason:  "subscription inactive",
			Limit:   0,
		}
	}

	ents := r.catalog.Entitlements(record.Tier)

	if !types.CountableCapabilities[cap] {
		if ents.Grants(cap) {
			return types.EntitlementDecision{Allowed: true, Limit: UnlimitedGoals}
		}
		return types.EntitlementDecision{
			Allowed: false,
			Reason:  fmt.Sprintf("%s is not included in the %s plan", cap, record.Tier),
			Limit:   0,
		}
	}

	limit := ents.GoalLimit
	current := usage.CountFor(cap)

	if effective == types.SubStatusPastDue {
		return types.EntitlementDecision{
			Allowed:      false,
			Reason:       "payment past due; creating new resources is paused",
			Limit:        limit,
			CurrentUsage: current,
		}
	}

	if limit == UnlimitedGoals || current < limit {
		return types.EntitlementDecision{
			Allowed:      true,
			Limit:        limit,
			CurrentUsage: current,
		}
	}

	return types.EntitlementDecision{
		Allowed:      false,
		Reason:       fmt.Sprintf("Goal limit reached (%d/%d)", current, limit),
		Limit:        limit,
		CurrentUsage: current,
	}
}

// Summarize builds the UI-facing status summary for a record, applying the
// same lazy trial-expiry treatment as Resolve.
func (r *Resolver) Summarize(record *types.SubscriptionRecord) types.StatusSummary {
	now := r.now()

	status := record.Status
	if status == types.SubStatusTrial && TrialExpired(record.TrialEnd, now) {
		status = types.SubStatusExpired
	}

	return types.StatusSummary{
		Tier:              record.Tier,
		Status:            status,
		IsInTrial:         status == types.SubStatusTrial,
		DaysUntilTrialEnd: TrialDaysRemaining(record.TrialEnd, now),
		RenewalDate:       record.NextBillingAt,
	}
}
