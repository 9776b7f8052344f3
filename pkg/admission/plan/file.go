package plan

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"keywordlab/gatekeeper/pkg/admission"
)

// FileSpec is the YAML form of a plan catalog with tenant subscriptions.
//
//	default_tier: free
//	plans:
//	  starter:
//	    daily_seeds: 150
//	tenants:
//	  acme:
//	    tier: professional
//	    overrides:
//	      max_keywords: -1
//
// Plans listed here overlay the built-in catalog kind by kind.
type FileSpec struct {
	DefaultTier string                      `yaml:"default_tier,omitempty"`
	Plans       map[string]map[string]int64 `yaml:"plans,omitempty"`
	Tenants     map[string]TenantSpec       `yaml:"tenants,omitempty"`
}

// TenantSpec is the YAML form of a Subscription.
type TenantSpec struct {
	Tier      string           `yaml:"tier"`
	Overrides map[string]int64 `yaml:"overrides,omitempty"`
}

// ParseSpec decodes YAML plan data.
func ParseSpec(data []byte) (*FileSpec, error) {
	var spec FileSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse plans: %w", err)
	}
	return &spec, nil
}

// Build overlays the spec on base and returns a validated snapshot.
func (f *FileSpec) Build(base Catalog) (*Snapshot, error) {
	catalog := base.Clone()

	for name, kinds := range f.Plans {
		tier, err := ParseTier(name)
		if err != nil {
			return nil, fmt.Errorf("%w: plans: %v", admission.ErrConfigInvalid, err)
		}
		limits, ok := catalog[tier]
		if !ok {
			limits = Limits{}
			catalog[tier] = limits
		}
		for k, v := range kinds {
			kind, err := admission.ParseQuotaKind(k)
			if err != nil {
				return nil, fmt.Errorf("plans.%s: %w", name, err)
			}
			limits[kind] = v
		}
	}

	var defaultTier Tier
	if f.DefaultTier != "" {
		t, err := ParseTier(f.DefaultTier)
		if err != nil {
			return nil, fmt.Errorf("%w: default_tier: %v", admission.ErrConfigInvalid, err)
		}
		defaultTier = t
	}

	ids := make([]string, 0, len(f.Tenants))
	for id := range f.Tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	subs := make([]Subscription, 0, len(ids))
	for _, id := range ids {
		ts := f.Tenants[id]
		tier, err := ParseTier(ts.Tier)
		if err != nil {
			return nil, fmt.Errorf("%w: tenants.%s: %v", admission.ErrConfigInvalid, id, err)
		}

		var overrides Overrides
		if len(ts.Overrides) > 0 {
			overrides = make(Overrides, len(ts.Overrides))
			for k, v := range ts.Overrides {
				kind, err := admission.ParseQuotaKind(k)
				if err != nil {
					return nil, fmt.Errorf("tenants.%s.overrides: %w", id, err)
				}
				overrides[kind] = v
			}
		}

		subs = append(subs, Subscription{TenantID: id, Tier: tier, Overrides: overrides})
	}

	snap := &Snapshot{
		Catalog:  catalog,
		Resolver: NewStaticResolver(subs, defaultTier),
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

// LoadFile reads a YAML plans file and builds a snapshot on top of base.
func LoadFile(path string, base Catalog) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plans file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: plans file %q is empty", admission.ErrConfigInvalid, path)
	}

	spec, err := ParseSpec(data)
	if err != nil {
		return nil, err
	}

	return spec.Build(base)
}
