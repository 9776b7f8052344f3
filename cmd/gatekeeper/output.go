package main

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"keywordlab/gatekeeper/pkg/admission/plan"
	"keywordlab/gatekeeper/pkg/cli"
)

func addOutputFlag(cmd *cobra.Command, dst *string) {
	cmd.Flags().StringVarP(dst, "output", "o", "text", "output format: text, json, csv")
}

// render writes t to the command's stdout in the requested format.
func render(cmd *cobra.Command, format string, t *cli.Table) error {
	f, err := cli.ParseOutputFormat(format)
	if err != nil {
		return cli.NewCommandError(cmd.Name(), err)
	}
	return cli.NewFormatter(f).FormatTo(cmd.OutOrStdout(), t)
}

func formatCeiling(v int64) string {
	if v == plan.Unlimited {
		return "unlimited"
	}
	return strconv.FormatInt(v, 10)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
