package entitlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"stride/internal/types"
)

var resolverNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestResolver() *Resolver {
	return NewResolver(NewStaticCatalog(), func() time.Time { return resolverNow })
}

func record(tier types.Tier, status types.SubscriptionStatus) *types.SubscriptionRecord {
	return &types.SubscriptionRecord{
		AccountID: "acct_1",
		Tier:      tier,
		Status:    status,
	}
}

func TestResolve_InactiveStatusesDenyEverything(t *testing.T) {
	r := newTestResolver()

	for _, status := range []types.SubscriptionStatus{
		types.SubStatusCanceled,
		types.SubStatusExpired,
	} {
		t.Run(string(status), func(t *testing.T) {
			d := r.Resolve(record(types.TierElite, status), types.CapDirectMessages, types.UsageSnapshot{})
			assert.False(t, d.Allowed)
			assert.Equal(t, "subscription inactive", d.Reason)
		})
	}
}

func TestResolve_LapsedTrialDeniesWithoutPersisting(t *testing.T) {
	r := newTestResolver()

	lapsed := resolverNow.Add(-time.Hour)
	rec := record(types.TierFreeTrial, types.SubStatusTrial)
	rec.TrialEnd = &lapsed

	d := r.Resolve(rec, types.CapDirectMessages, types.UsageSnapshot{})
	assert.False(t, d.Allowed)
	assert.Equal(t, "subscription inactive", d.Reason)
	// The stored record is untouched; only the decision sees Expired.
	assert.Equal(t, types.SubStatusTrial, rec.Status)
}

func TestResolve_RunningTrialGrantsFullSurface(t *testing.T) {
	r := newTestResolver()

	end := resolverNow.Add(5 * 24 * time.Hour)
	rec := record(types.TierFreeTrial, types.SubStatusTrial)
	rec.TrialEnd = &end

	assert.True(t, r.Resolve(rec, types.CapPrivateRooms, types.UsageSnapshot{}).Allowed)
	assert.True(t, r.Resolve(rec, types.CapAnalytics, types.UsageSnapshot{}).Allowed)

	d := r.Resolve(rec, types.CapGoalCreate, types.UsageSnapshot{ActiveGoals: 999})
	assert.True(t, d.Allowed)
	assert.Equal(t, UnlimitedGoals, d.Limit)
}

func TestResolve_BooleanCapabilityByTier(t *testing.T) {
	r := newTestResolver()

	allowed := r.Resolve(record(types.TierBasic, types.SubStatusActive), types.CapDirectMessages, types.UsageSnapshot{})
	assert.True(t, allowed.Allowed)

	denied := r.Resolve(record(types.TierBasic, types.SubStatusActive), types.CapPrivateRooms, types.UsageSnapshot{})
	assert.False(t, denied.Allowed)
	assert.Equal(t, "private_rooms is not included in the basic plan", denied.Reason)
}

func TestResolve_CountableUnderAndAtLimit(t *testing.T) {
	r := newTestResolver()
	rec := record(types.TierBasic, types.SubStatusActive)

	under := r.Resolve(rec, types.CapGoalCreate, types.UsageSnapshot{ActiveGoals: 2})
	assert.True(t, under.Allowed)
	assert.Equal(t, 3, under.Limit)
	assert.Equal(t, 2, under.CurrentUsage)

	at := r.Resolve(rec, types.CapGoalCreate, types.UsageSnapshot{ActiveGoals: 3})
	assert.False(t, at.Allowed)
	assert.Equal(t, "Goal limit reached (3/3)", at.Reason)
}

func TestResolve_UnlimitedTierIgnoresUsage(t *testing.T) {
	r := newTestResolver()

	d := r.Resolve(record(types.TierElite, types.SubStatusActive), types.CapGoalCreate, types.UsageSnapshot{ActiveGoals: 10000})
	assert.True(t, d.Allowed)
	assert.Equal(t, UnlimitedGoals, d.Limit)
}

func TestResolve_PastDueKeepsBooleansPausesCreation(t *testing.T) {
	r := newTestResolver()
	rec := record(types.TierPro, types.SubStatusPastDue)

	boolean := r.Resolve(rec, types.CapPrivateRooms, types.UsageSnapshot{})
	assert.True(t, boolean.Allowed)

	countable := r.Resolve(rec, types.CapGoalCreate, types.UsageSnapshot{ActiveGoals: 1})
	assert.False(t, countable.Allowed)
	assert.Equal(t, "payment past due; creating new resources is paused", countable.Reason)
	assert.Equal(t, 10, countable.Limit)
	assert.Equal(t, 1, countable.CurrentUsage)
}

func TestSummarize_RunningTrial(t *testing.T) {
	r := newTestResolver()

	end := resolverNow.Add(36 * time.Hour)
	rec := record(types.TierFreeTrial, types.SubStatusTrial)
	rec.TrialEnd = &end

	s := r.Summarize(rec)
	assert.Equal(t, types.SubStatusTrial, s.Status)
	assert.True(t, s.IsInTrial)
	assert.Equal(t, 2, s.DaysUntilTrialEnd)
}

func TestSummarize_LapsedTrialReportsExpired(t *testing.T) {
	r := newTestResolver()

	end := resolverNow.Add(-time.Minute)
	rec := record(types.TierFreeTrial, types.SubStatusTrial)
	rec.TrialEnd = &end

	s := r.Summarize(rec)
	assert.Equal(t, types.SubStatusExpired, s.Status)
	assert.False(t, s.IsInTrial)
	assert.Equal(t, 0, s.DaysUntilTrialEnd)
}

func TestSummarize_ActiveCarriesRenewalDate(t *testing.T) {
	r := newTestResolver()

	renewal := resolverNow.Add(20 * 24 * time.Hour)
	rec := record(types.TierPro, types.SubStatusActive)
	rec.NextBillingAt = &renewal

	s := r.Summarize(rec)
	assert.Equal(t, types.SubStatusActive, s.Status)
	assert.False(t, s.IsInTrial)
	assert.Equal(t, &renewal, s.RenewalDate)
}
