// Package plan holds subscription tiers and their quota ceilings.
//
// A Catalog maps each Tier to Limits. Tiers are ordered free < starter <
// professional < enterprise and Catalog.Validate enforces that each tier
// strictly dominates the one below. Tenants are bound to tiers through a
// Resolver; per-tenant Overrides are overlaid with Merge.
//
// The active catalog lives in a Holder and can be replaced at runtime by a
// Watcher that reloads a YAML plans file:
//
//	holder, err := plan.NewHolder(snapshot)
//	w, err := plan.NewWatcher(plan.WatcherConfig{Path: "plans.yaml"}, holder, logger)
//	go w.Watch(ctx)
//
// Holder implements Source, which is what the quota tracker consumes.
package plan
