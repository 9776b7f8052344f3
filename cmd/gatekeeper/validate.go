package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"keywordlab/gatekeeper/pkg/admission/plan"
	"keywordlab/gatekeeper/pkg/admission/store"
	"keywordlab/gatekeeper/pkg/cli"
	"keywordlab/gatekeeper/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load the configuration file with environment overrides and check it.

Every invalid field is reported. When the file is valid the plans, rate rules
and operations are also built to catch problems that span sections, such as an
operation naming an unknown quota kind.

Examples:
  # Validate the default config.yaml
  gatekeeper validate

  # Validate a specific file
  gatekeeper validate --config /etc/gatekeeper/config.yaml`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateConfig(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		fieldErrs := cli.ConfigErrors(err)
		if len(fieldErrs) == 0 {
			return cli.NewConfigError("", err.Error())
		}
		for _, fe := range fieldErrs {
			fmt.Fprintf(out, "✗ %s: %s\n", fe.Field, fe.Message)
		}
		return fmt.Errorf("configuration invalid: %d error(s)", len(fieldErrs))
	}

	// Construction only; the memory store is never touched.
	stack, err := buildAdmission(cfg, store.NewMemoryStore(), hooks{}, slog.Default())
	if err != nil {
		fmt.Fprintf(out, "✗ %v\n", err)
		return fmt.Errorf("configuration invalid: %w", err)
	}

	snap := stack.Holder.Load()
	fmt.Fprintf(out, "✓ Configuration valid: %s\n", cfgFile)
	fmt.Fprintf(out, "  store:      %s\n", cfg.Admission.Store.Backend)
	fmt.Fprintf(out, "  rules:      %d (default %d per %s)\n",
		len(cfg.Admission.Rules), cfg.Admission.DefaultRule.MaxRequests, cfg.Admission.DefaultRule.Window)
	fmt.Fprintf(out, "  operations: %d\n", len(cfg.Admission.Operations))
	fmt.Fprintf(out, "  plans:      %d tiers", len(snap.Catalog))
	if r, ok := snap.Resolver.(*plan.StaticResolver); ok {
		fmt.Fprintf(out, ", %d tenants (default tier %s)", len(r.Subscriptions()), r.DefaultTier())
	}
	fmt.Fprintln(out)

	if cfg.Audit.Enabled {
		fmt.Fprintf(out, "  audit:      %s\n", cfg.Audit.Backend)
	} else {
		fmt.Fprintln(out, "  audit:      disabled")
	}

	return nil
}
