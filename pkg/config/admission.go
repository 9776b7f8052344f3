package config

import (
	"fmt"
	"slices"
	"time"

	"keywordlab/gatekeeper/pkg/admission"
	"keywordlab/gatekeeper/pkg/admission/guard"
	"keywordlab/gatekeeper/pkg/admission/plan"
	"keywordlab/gatekeeper/pkg/admission/ratelimit"
)

// Rule converts the YAML rule.
func (r RuleConfig) Rule() ratelimit.Rule {
	return ratelimit.Rule{Window: r.Window, MaxRequests: r.MaxRequests}
}

// Rules converts the YAML rule set.
func (s RuleSet) Rules() []ratelimit.Rule {
	rules := make([]ratelimit.Rule, len(s))
	for i, r := range s {
		rules[i] = r.Rule()
	}
	return rules
}

// Validate checks every layer of the set.
func (s RuleSet) Validate() error {
	return ratelimit.ValidateRules(s.Rules())
}

// Operation converts and validates the YAML operation.
func (o OperationConfig) Operation() (guard.Operation, error) {
	op := guard.Operation{Endpoint: o.Endpoint, Amount: o.Amount}

	if len(o.Rule) > 0 {
		if err := o.Rule.Validate(); err != nil {
			return guard.Operation{}, fmt.Errorf("rule: %w", err)
		}
		op.Rules = o.Rule.Rules()
	}
	if o.Amount < 0 {
		return guard.Operation{}, fmt.Errorf("%w: amount must not be negative", admission.ErrConfigInvalid)
	}

	seen := make(map[admission.QuotaKind]bool, len(o.Quotas))
	for _, name := range o.Quotas {
		kind, err := admission.ParseQuotaKind(name)
		if err != nil {
			return guard.Operation{}, err
		}
		if seen[kind] {
			return guard.Operation{}, fmt.Errorf("%w: quota %s listed twice", admission.ErrConfigInvalid, kind)
		}
		seen[kind] = true
		op.Quotas = append(op.Quotas, kind)
	}

	return op, nil
}

// RateRules returns the per-endpoint rules.
func (a *AdmissionConfig) RateRules() map[string][]ratelimit.Rule {
	rules := make(map[string][]ratelimit.Rule, len(a.Rules))
	for name, r := range a.Rules {
		rules[name] = r.Rules()
	}
	return rules
}

// GuardOperations returns the operation table for guard.Config.
func (a *AdmissionConfig) GuardOperations() (map[string]guard.Operation, error) {
	ops := make(map[string]guard.Operation, len(a.Operations))
	for _, name := range sortedKeys(a.Operations) {
		op, err := a.Operations[name].Operation()
		if err != nil {
			return nil, fmt.Errorf("operation %q: %w", name, err)
		}
		ops[name] = op
	}
	return ops, nil
}

// Snapshot builds the initial plan snapshot, from File when set and from the
// inline plans otherwise.
func (p *PlansConfig) Snapshot() (*plan.Snapshot, error) {
	if p.File != "" {
		return plan.LoadFile(p.File, plan.DefaultCatalog())
	}
	return p.FileSpec.Build(plan.DefaultCatalog())
}

// Retention returns the audit retention windows.
func (r RetentionConfig) Retention() (events, alerts time.Duration) {
	return time.Duration(r.EventDays) * 24 * time.Hour, time.Duration(r.AlertDays) * 24 * time.Hour
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
