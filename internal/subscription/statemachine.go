package subscription

import (
	"stride/internal/entitlement"
	"stride/internal/types"
)

// Apply is the authoritative transition function: given the current record
// and an event, it produces the successor record or rejects the transition.
//
// Apply is pure with respect to the record -- loading and saving are the
// caller's responsibility -- and takes the wall clock as an argument so
// tests are deterministic. Every accepted transition increments Version;
// callers persist the result with a compare-and-swap on the version they
// read.
//
// An event not listed for the record's current status is rejected with
// subscription_invalid_transition. Rejections are reported, never silently
// ignored: a webhook arriving for a state that cannot accept it indicates a
// missed prior event or an ordering bug and must be logged for
// reconciliation.
func Apply(rec types.SubscriptionRecord, ev Event, now types.Clock) (types.SubscriptionRecord, error) {
	next := rec

	switch e := ev.(type) {
	case TrialExpiredTick:
		if rec.Status != types.SubStatusTrial {
			return rec, types.NewInvalidTransition(rec.Status, ev.Name())
		}
		if !entitlement.TrialExpired(rec.TrialEnd, now()) {
			return rec, types.NewInvalidTransition(rec.Status, ev.Name())
		}
		next.Status = types.SubStatusExpired

	case CheckoutCompleted:
		// Valid from any status: a fresh checkout always wins.
		next.Status = types.SubStatusActive
		next.Tier = e.Tier
		next.BillingCycle = e.Cycle
		next.ExternalCustomerRef = e.CustomerRef
		next.ExternalSubscriptionRef = e.SubscriptionRef
		start := now()
		next.SubscriptionStart = &start
		next.SubscriptionEnd = nil
		periodEnd := e.PeriodEnd
		next.NextBillingAt = &periodEnd
		next.PendingPlanChange = nil

	case PaymentSucceeded:
		if rec.Status != types.SubStatusActive && rec.Status != types.SubStatusPastDue {
			return rec, types.NewInvalidTransition(rec.Status, ev.Name())
		}
		next.Status = types.SubStatusActive
		// Only advance, never regress: a redelivered stale event must not
		// pull the billing horizon backwards past what a newer delivery
		// already established.
		if rec.NextBillingAt == nil || e.PeriodEnd.After(*rec.NextBillingAt) {
			periodEnd := e.PeriodEnd
			next.NextBillingAt = &periodEnd
		}
		if pc := rec.PendingPlanChange; pc != nil && !pc.EffectiveAt.After(now()) {
			next.Tier = pc.NewTier
			next.BillingCycle = pc.NewCycle
			next.PendingPlanChange = nil
		}

	case PaymentFailed:
		if rec.Status != types.SubStatusActive {
			return rec, types.NewInvalidTransition(rec.Status, ev.Name())
		}
		next.Status = types.SubStatusPastDue

	case ProviderCanceled:
		if rec.Status != types.SubStatusActive && rec.Status != types.SubStatusPastDue {
			return rec, types.NewInvalidTransition(rec.Status, ev.Name())
		}
		next.Status = types.SubStatusCanceled
		end := now()
		next.SubscriptionEnd = &end

	case UserCancelRequested:
		switch rec.Status {
		case types.SubStatusActive:
			next.Status = types.SubStatusCanceled
			end := now()
			next.SubscriptionEnd = &end
		case types.SubStatusTrial:
			next.Status = types.SubStatusCanceled
			// Canceling a trial closes it at the trial window's edge.
			next.SubscriptionEnd = rec.TrialEnd
		default:
			return rec, types.NewInvalidTransition(rec.Status, ev.Name())
		}

	case PlanChangeRequested:
		if rec.Status != types.SubStatusActive {
			return rec, types.NewInvalidTransition(rec.Status, ev.Name())
		}
		if e.DeferToPeriodEnd {
			effective := now()
			if rec.NextBillingAt != nil {
				effective = *rec.NextBillingAt
			}
			next.PendingPlanChange = &types.PendingPlanChange{
				NewTier:     e.NewTier,
				NewCycle:    e.NewCycle,
				EffectiveAt: effective,
			}
		} else {
			next.Tier = e.NewTier
			next.BillingCycle = e.NewCycle
			next.PendingPlanChange = nil
		}

	default:
		return rec, types.NewInvalidTransition(rec.Status, ev.Name())
	}

	next.Version = rec.Version + 1
	next.UpdatedAt = now()
	return next, nil
}
