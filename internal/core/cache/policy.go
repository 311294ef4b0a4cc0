package cache

import (
	"time"

	"github.com/labgate/labgate/internal/core"
)

// Policy controls how long a snapshot counts as fresh or extended.
// Emergency has no age limit.
type Policy struct {
	FreshTTL    time.Duration
	ExtendedTTL time.Duration
}

// Policy defaults.
const (
	DefaultFreshTTL    = 30 * time.Second
	DefaultExtendedTTL = 10 * time.Minute
)

func policyWithDefaults(policy Policy) Policy {
	if policy.FreshTTL <= 0 {
		policy.FreshTTL = DefaultFreshTTL
	}
	if policy.ExtendedTTL <= 0 {
		policy.ExtendedTTL = DefaultExtendedTTL
	}
	if policy.ExtendedTTL < policy.FreshTTL {
		policy.ExtendedTTL = policy.FreshTTL
	}
	return policy
}

// window returns the freshness window for tier. Zero means unbounded.
func window(policy Policy, tier core.Tier) time.Duration {
	policy = policyWithDefaults(policy)

	switch tier {
	case core.TierFresh:
		return policy.FreshTTL
	case core.TierExtended:
		return policy.ExtendedTTL
	default:
		return 0
	}
}
