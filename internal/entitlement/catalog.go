// Package entitlement implements the entitlement catalog, the trial clock,
// and the per-request entitlement resolver.
package entitlement

import "stride/internal/types"

// UnlimitedGoals is the goal-limit value meaning "no numeric limit".
const UnlimitedGoals = -1

// TierEntitlements defines the capability set and numeric limits for one
// subscription tier.
type TierEntitlements struct {
	// Capabilities is the set of boolean capabilities granted by the tier.
	// A set containing types.CapAll grants every boolean capability.
	Capabilities map[types.Capability]bool

	// GoalLimit caps the number of concurrently active goals.
	// UnlimitedGoals (-1) means no limit.
	GoalLimit int
}

// Catalog defines the authoritative capability sets and limits for each tier.
// This is the single source of truth for what each plan allows.
type Catalog interface {
	// Entitlements returns the entitlements for the given tier. For unknown
	// tiers it returns the most restrictive (Basic) entitlements to fail
	// safely.
	Entitlements(tier types.Tier) TierEntitlements
}

// staticCatalog is a compile-time catalog backed by an in-memory map.
// It is the standard implementation for production use.
type staticCatalog struct {
	entries map[types.Tier]TierEntitlements
}

// catalogDefaults defines the hardcoded tier entitlements:
//
//	| Tier       | Goals     | DMs | Private rooms | Analytics |
//	|------------|-----------|-----|---------------|-----------|
//	| FreeTrial  | unlimited | yes | yes           | yes       |
//	| Basic      | 3         | yes | no            | no        |
//	| Pro        | 10        | yes | yes           | no        |
//	| Elite      | unlimited | all (wildcard)                  |
//
// The free trial grants the full feature surface so the trial demonstrates
// the product; the trial window, not the catalog, is what bounds it.
var catalogDefaults = map[types.Tier]TierEntitlements{
	types.TierFreeTrial: {
		Capabilities: map[types.Capability]bool{types.CapAll: true},
		GoalLimit:    UnlimitedGoals,
	},
	types.TierBasic: {
		Capabilities: map[types.Capability]bool{
			types.CapDirectMessages: true,
		},
		GoalLimit: 3,
	},
	types.TierPro: {
		Capabilities: map[types.Capability]bool{
			types.CapDirectMessages: true,
			types.CapPrivateRooms:   true,
		},
		GoalLimit: 10,
	},
	types.TierElite: {
		Capabilities: map[types.Capability]bool{types.CapAll: true},
		GoalLimit:    UnlimitedGoals,
	},
}

// basicEntitlements is cached to avoid map lookups on the fallback path.
var basicEntitlements = catalogDefaults[types.TierBasic]

// NewStaticCatalog returns a Catalog backed by the hardcoded tier
// entitlements. No database or external service is required.
func NewStaticCatalog() Catalog {
	// Copy the defaults so callers cannot mutate the package-level variable.
	m := make(map[types.Tier]TierEntitlements, len(catalogDefaults))
	for tier, e := range catalogDefaults {
		caps := make(map[types.Capability]bool, len(e.Capabilities))
		for c, v := range e.Capabilities {
			caps[c] = v
		}
		m[tier] = TierEntitlements{Capabilities: caps, GoalLimit: e.GoalLimit}
	}
	return &staticCatalog{entries: m}
}

// Entitlements returns the entitlements for the given tier, falling back to
// Basic for unknown tiers.
func (c *staticCatalog) Entitlements(tier types.Tier) TierEntitlements {
	if e, ok := c.entries[tier]; ok {
		return e
	}
	return basicEntitlements
}

// Grants reports whether the entitlements include the given boolean
// capability, honoring the wildcard.
func (e TierEntitlements) Grants(cap types.Capability) bool {
	if e.Capabilities[types.CapAll] {
		return true
	}
	return e.Capabilities[cap]
}
