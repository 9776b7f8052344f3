package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"keywordlab/gatekeeper/pkg/admission"
	"keywordlab/gatekeeper/pkg/admission/plan"
	"keywordlab/gatekeeper/pkg/cli"
)

var plansFlags struct {
	tenant string
	output string
}

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Show plan ceilings",
	Long: `Show the effective plan catalog, or the limits that apply to one tenant.

The catalog is built the same way the server builds it: the built-in defaults,
overlaid with the plans section of the config or the plans file it names.

Examples:
  # Show every tier
  gatekeeper plans

  # Show one tenant's limits, including overrides
  gatekeeper plans --tenant acme

  # Machine-readable output
  gatekeeper plans --output json`,
	RunE: showPlans,
}

func init() {
	rootCmd.AddCommand(plansCmd)

	plansCmd.Flags().StringVarP(&plansFlags.tenant, "tenant", "t", "", "show the effective limits of this tenant")
	addOutputFlag(plansCmd, &plansFlags.output)
}

func showPlans(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	snap, err := cfg.Plans.Snapshot()
	if err != nil {
		return cli.NewConfigError("plans", err.Error())
	}

	if plansFlags.tenant == "" {
		return render(cmd, plansFlags.output, catalogTable(snap.Catalog))
	}

	holder, err := plan.NewHolder(snap)
	if err != nil {
		return cli.NewConfigError("plans", err.Error())
	}
	eff, err := holder.Effective(cmd.Context(), plansFlags.tenant)
	if err != nil {
		return cli.NewCommandError("plans", fmt.Errorf("tenant %q: %w", plansFlags.tenant, err))
	}
	slog.Debug("resolved tenant plan", "tenant_id", eff.TenantID, "tier", eff.Tier)

	return render(cmd, plansFlags.output, effectiveTable(eff))
}

func catalogTable(c plan.Catalog) *cli.Table {
	var tiers []plan.Tier
	for _, tier := range plan.Tiers() {
		if _, ok := c[tier]; ok {
			tiers = append(tiers, tier)
		}
	}

	t := &cli.Table{Headers: []string{"KIND", "PERIOD"}}
	for _, tier := range tiers {
		t.Headers = append(t.Headers, string(tier))
	}

	data := make(map[plan.Tier]map[admission.QuotaKind]int64, len(tiers))
	for _, tier := range tiers {
		data[tier] = c[tier].Clone()
	}

	for _, kind := range admission.QuotaKinds() {
		row := []string{string(kind), kind.Periodicity().String()}
		for _, tier := range tiers {
			if v, ok := c[tier].Ceiling(kind); ok {
				row = append(row, formatCeiling(v))
			} else {
				row = append(row, "-")
			}
		}
		t.Rows = append(t.Rows, row)
	}
	t.Data = data

	return t
}

type effectiveLimit struct {
	Kind   admission.QuotaKind `json:"kind"`
	Period string              `json:"period"`
	Limit  int64               `json:"limit"`
}

type effectivePlan struct {
	TenantID string           `json:"tenant_id"`
	Tier     plan.Tier        `json:"tier"`
	Limits   []effectiveLimit `json:"limits"`
}

func effectiveTable(eff plan.Effective) *cli.Table {
	t := &cli.Table{Headers: []string{"TENANT", "TIER", "KIND", "PERIOD", "LIMIT"}}
	data := effectivePlan{TenantID: eff.TenantID, Tier: eff.Tier}

	for _, kind := range admission.QuotaKinds() {
		v, ok := eff.Limits.Ceiling(kind)
		if !ok {
			continue
		}
		period := kind.Periodicity().String()
		t.Rows = append(t.Rows, []string{eff.TenantID, string(eff.Tier), string(kind), period, formatCeiling(v)})
		data.Limits = append(data.Limits, effectiveLimit{Kind: kind, Period: period, Limit: v})
	}
	t.Data = data

	return t
}
