package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "gatekeeper",
	Short: "Gatekeeper - rate limiting and quota admission control",
	Long: `Gatekeeper decides whether a tenant's request may proceed.

It combines two mechanisms over a shared counter store:
  - Sliding-window rate limits per tenant, user and endpoint
  - Plan quotas per tenant (daily, monthly and cumulative ceilings)

When the counter store is unreachable, checks fail open and are reported
as degraded instead of blocking traffic.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
