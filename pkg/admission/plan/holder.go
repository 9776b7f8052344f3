package plan

import (
	"context"
	"fmt"
	"sync/atomic"

	"keywordlab/gatekeeper/pkg/admission"
)

// Snapshot is an immutable catalog plus the resolver that maps tenants to tiers.
type Snapshot struct {
	Catalog  Catalog
	Resolver Resolver
}

// Validate checks the catalog and, for a StaticResolver, that every
// subscription references a defined tier with valid overrides.
func (s *Snapshot) Validate() error {
	if s == nil || s.Catalog == nil {
		return fmt.Errorf("%w: catalog is required", admission.ErrConfigInvalid)
	}
	if s.Resolver == nil {
		return fmt.Errorf("%w: resolver is required", admission.ErrConfigInvalid)
	}
	if err := s.Catalog.Validate(); err != nil {
		return err
	}

	static, ok := s.Resolver.(*StaticResolver)
	if !ok {
		return nil
	}
	if t := static.DefaultTier(); t != "" {
		if _, err := s.Catalog.Limits(t); err != nil {
			return fmt.Errorf("%w: default tier: %v", admission.ErrConfigInvalid, err)
		}
	}
	for _, sub := range static.Subscriptions() {
		if _, err := s.Catalog.Limits(sub.Tier); err != nil {
			return fmt.Errorf("%w: tenant %q: %v", admission.ErrConfigInvalid, sub.TenantID, err)
		}
		if err := ValidateOverrides(sub.Overrides); err != nil {
			return fmt.Errorf("tenant %q: %w", sub.TenantID, err)
		}
	}
	return nil
}

// Effective is the resolved set of ceilings that apply to one tenant.
type Effective struct {
	TenantID string
	Tier     Tier
	Limits   Limits
}

// Source resolves the effective limits of a tenant.
type Source interface {
	Effective(ctx context.Context, tenantID string) (Effective, error)
}

// Holder holds the active Snapshot and swaps it atomically on reload.
// Readers never block writers.
type Holder struct {
	current atomic.Pointer[Snapshot]
	version atomic.Uint64
}

// NewHolder validates s and returns a holder serving it.
func NewHolder(s *Snapshot) (*Holder, error) {
	h := &Holder{}
	if err := h.Swap(s); err != nil {
		return nil, err
	}
	return h, nil
}

// Load returns the active snapshot.
func (h *Holder) Load() *Snapshot {
	return h.current.Load()
}

// Version counts successful swaps.
func (h *Holder) Version() uint64 {
	return h.version.Load()
}

// Swap validates s and makes it the active snapshot. On error the previous
// snapshot stays active.
func (h *Holder) Swap(s *Snapshot) error {
	if err := s.Validate(); err != nil {
		return err
	}
	h.current.Store(s)
	h.version.Add(1)
	return nil
}

// Effective implements Source. Overrides take precedence over the plan
// default for every kind they name.
func (h *Holder) Effective(ctx context.Context, tenantID string) (Effective, error) {
	s := h.current.Load()
	if s == nil {
		return Effective{}, fmt.Errorf("%w: no plan catalog loaded", admission.ErrConfigInvalid)
	}

	sub, err := s.Resolver.Resolve(ctx, tenantID)
	if err != nil {
		return Effective{}, err
	}

	base, err := s.Catalog.Limits(sub.Tier)
	if err != nil {
		return Effective{}, err
	}

	return Effective{
		TenantID: tenantID,
		Tier:     sub.Tier,
		Limits:   Merge(base, sub.Overrides),
	}, nil
}
