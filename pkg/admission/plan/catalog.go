package plan

import (
	"fmt"
	"sort"
	"strings"

	"keywordlab/gatekeeper/pkg/admission"
)

// Tier is a subscription plan name.
type Tier string

// Plan tiers from least to most generous.
const (
	TierFree         Tier = "free"
	TierStarter      Tier = "starter"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

// Unlimited marks a ceiling that is never enforced.
const Unlimited int64 = -1

// Tiers returns every tier ordered from least to most generous.
func Tiers() []Tier {
	return []Tier{TierFree, TierStarter, TierProfessional, TierEnterprise}
}

// Rank returns the position of t in Tiers, or -1 for unknown tiers.
func (t Tier) Rank() int {
	for i, tier := range Tiers() {
		if tier == t {
			return i
		}
	}
	return -1
}

// ParseTier converts a configuration string into a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if t.Rank() < 0 {
		return "", fmt.Errorf("%w: %q", admission.ErrUnknownPlan, s)
	}
	return t, nil
}

// Limits maps each quota kind to its ceiling.
type Limits map[admission.QuotaKind]int64

// Ceiling returns the ceiling for kind and whether one is defined.
func (l Limits) Ceiling(kind admission.QuotaKind) (int64, bool) {
	c, ok := l[kind]
	return c, ok
}

// Clone returns a copy of l.
func (l Limits) Clone() Limits {
	out := make(Limits, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// Overrides replaces individual ceilings for one tenant.
type Overrides map[admission.QuotaKind]int64

// Merge overlays overrides on base. Neither input is modified.
func Merge(base Limits, overrides Overrides) Limits {
	out := base.Clone()
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Catalog holds the quota ceilings of every tier.
type Catalog map[Tier]Limits

// DefaultCatalog returns the built-in plan ceilings.
func DefaultCatalog() Catalog {
	return Catalog{
		TierFree: {
			admission.DailySeeds:       10,
			admission.DailySerpCalls:   50,
			admission.DailyExports:     5,
			admission.MonthlySerpCalls: 1000,
			admission.MaxKeywords:      1000,
			admission.MaxClusters:      50,
			admission.MaxBriefs:        10,
		},
		TierStarter: {
			admission.DailySeeds:       100,
			admission.DailySerpCalls:   500,
			admission.DailyExports:     25,
			admission.MonthlySerpCalls: 10000,
			admission.MaxKeywords:      10000,
			admission.MaxClusters:      500,
			admission.MaxBriefs:        100,
		},
		TierProfessional: {
			admission.DailySeeds:       500,
			admission.DailySerpCalls:   2500,
			admission.DailyExports:     100,
			admission.MonthlySerpCalls: 50000,
			admission.MaxKeywords:      100000,
			admission.MaxClusters:      5000,
			admission.MaxBriefs:        1000,
		},
		TierEnterprise: {
			admission.DailySeeds:       5000,
			admission.DailySerpCalls:   25000,
			admission.DailyExports:     1000,
			admission.MonthlySerpCalls: 500000,
			admission.MaxKeywords:      1000000,
			admission.MaxClusters:      50000,
			admission.MaxBriefs:        10000,
		},
	}
}

// Clone returns a deep copy of c.
func (c Catalog) Clone() Catalog {
	out := make(Catalog, len(c))
	for t, l := range c {
		out[t] = l.Clone()
	}
	return out
}

// Limits returns the ceilings of tier.
func (c Catalog) Limits(tier Tier) (Limits, error) {
	l, ok := c[tier]
	if !ok {
		return nil, fmt.Errorf("%w: %q", admission.ErrUnknownPlan, tier)
	}
	return l, nil
}

// Validate checks that every tier defines every quota kind, that only the
// top tier uses Unlimited, and that each tier strictly dominates the tier
// below it on every kind.
func (c Catalog) Validate() error {
	var errs []string

	for t := range c {
		if t.Rank() < 0 {
			errs = append(errs, fmt.Sprintf("unknown tier %q", t))
		}
	}

	tiers := Tiers()
	for i, tier := range tiers {
		limits, ok := c[tier]
		if !ok {
			errs = append(errs, fmt.Sprintf("tier %q is not defined", tier))
			continue
		}

		for k := range limits {
			if !k.Valid() {
				errs = append(errs, fmt.Sprintf("tier %q: unknown quota kind %q", tier, k))
			}
		}

		for _, kind := range admission.QuotaKinds() {
			ceiling, ok := limits[kind]
			if !ok {
				errs = append(errs, fmt.Sprintf("tier %q: missing ceiling for %s", tier, kind))
				continue
			}
			if ceiling < Unlimited {
				errs = append(errs, fmt.Sprintf("tier %q: %s ceiling %d is negative", tier, kind, ceiling))
				continue
			}
			if ceiling == Unlimited && tier != TierEnterprise {
				errs = append(errs, fmt.Sprintf("tier %q: %s cannot be unlimited", tier, kind))
				continue
			}
			if i == 0 {
				continue
			}

			lower, ok := c[tiers[i-1]][kind]
			if !ok || lower == Unlimited {
				continue
			}
			if ceiling != Unlimited && ceiling <= lower {
				errs = append(errs, fmt.Sprintf("tier %q: %s ceiling %d must exceed %q ceiling %d",
					tier, kind, ceiling, tiers[i-1], lower))
			}
		}
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("%w: %s", admission.ErrConfigInvalid, strings.Join(errs, "; "))
	}
	return nil
}

// ValidateOverrides checks override kinds and values.
func ValidateOverrides(o Overrides) error {
	for k, v := range o {
		if !k.Valid() {
			return fmt.Errorf("%w: override for %q", admission.ErrUnknownQuotaKind, k)
		}
		if v < Unlimited {
			return fmt.Errorf("%w: override %s=%d is negative", admission.ErrConfigInvalid, k, v)
		}
	}
	return nil
}
