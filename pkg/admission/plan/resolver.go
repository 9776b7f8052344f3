package plan

import (
	"context"
	"fmt"

	"keywordlab/gatekeeper/pkg/admission"
)

// Subscription binds a tenant to a tier and its per-tenant overrides.
type Subscription struct {
	TenantID  string
	Tier      Tier
	Overrides Overrides
}

// Resolver looks up the subscription of a tenant.
// It stands in for the plan/subscription service.
type Resolver interface {
	Resolve(ctx context.Context, tenantID string) (Subscription, error)
}

// StaticResolver resolves subscriptions from a fixed table.
type StaticResolver struct {
	tenants     map[string]Subscription
	defaultTier Tier
}

// NewStaticResolver builds a resolver from subs. Tenants missing from subs
// get defaultTier; an empty defaultTier makes them unknown.
func NewStaticResolver(subs []Subscription, defaultTier Tier) *StaticResolver {
	r := &StaticResolver{
		tenants:     make(map[string]Subscription, len(subs)),
		defaultTier: defaultTier,
	}
	for _, s := range subs {
		r.tenants[s.TenantID] = s
	}
	return r
}

// Resolve implements Resolver.
func (r *StaticResolver) Resolve(ctx context.Context, tenantID string) (Subscription, error) {
	if s, ok := r.tenants[tenantID]; ok {
		return s, nil
	}
	if r.defaultTier != "" {
		return Subscription{TenantID: tenantID, Tier: r.defaultTier}, nil
	}
	return Subscription{}, fmt.Errorf("%w: %q", admission.ErrTenantNotFound, tenantID)
}

// Subscriptions returns a copy of the configured subscriptions.
func (r *StaticResolver) Subscriptions() []Subscription {
	out := make([]Subscription, 0, len(r.tenants))
	for _, s := range r.tenants {
		out = append(out, s)
	}
	return out
}

// DefaultTier returns the tier given to unknown tenants.
func (r *StaticResolver) DefaultTier() Tier {
	return r.defaultTier
}
