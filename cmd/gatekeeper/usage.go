package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"keywordlab/gatekeeper/pkg/admission"
	"keywordlab/gatekeeper/pkg/admission/quota"
	"keywordlab/gatekeeper/pkg/audit"
	"keywordlab/gatekeeper/pkg/cli"
)

var usageFlags struct {
	kind    string
	from    string
	to      string
	report  bool
	timeout time.Duration
	output  string
}

var usageCmd = &cobra.Command{
	Use:   "usage TENANT",
	Short: "Show a tenant's quota usage",
	Long: `Read a tenant's quota counters straight from the configured counter store.

Without --kind every quota of the tenant's plan is shown for the current
period. With --from and --to one row per period in the range is shown for a
single kind. Dates are YYYY-MM-DD or RFC 3339.

With --report every kind is summarized over the range (default: the last
seven days) with its total, average, extremes and trend. When the audit log
is enabled the quota alerts raised in the range are listed as well.

The memory backend keeps counters inside the server process; query a running
server with GET /v1/usage instead.

Examples:
  # Current usage of every quota
  gatekeeper usage acme

  # Daily SERP calls for the first week of March
  gatekeeper usage acme --kind daily_serp_calls --from 2026-03-01 --to 2026-03-07

  # Usage report for March with alerts
  gatekeeper usage acme --report --from 2026-03-01 --to 2026-03-31

  # As CSV
  gatekeeper usage acme --output csv`,
	Args: cobra.ExactArgs(1),
	RunE: showUsage,
}

func init() {
	rootCmd.AddCommand(usageCmd)

	usageCmd.Flags().StringVarP(&usageFlags.kind, "kind", "k", "", "quota kind (default: every kind of the tenant's plan)")
	usageCmd.Flags().StringVar(&usageFlags.from, "from", "", "start of the range (requires --kind)")
	usageCmd.Flags().StringVar(&usageFlags.to, "to", "", "end of the range (default: now)")
	usageCmd.Flags().BoolVar(&usageFlags.report, "report", false, "summarize every kind over the range, with alerts")
	usageCmd.Flags().DurationVar(&usageFlags.timeout, "timeout", 5*time.Second, "timeout for each store read")
	addOutputFlag(usageCmd, &usageFlags.output)
}

func showUsage(cmd *cobra.Command, args []string) error {
	tenantID := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Admission.Store.Backend == "memory" {
		return cli.NewCommandError("usage", errors.New("the memory store is local to the server process; use GET /v1/usage"))
	}
	cfg.Admission.Timeout = usageFlags.timeout

	logger, err := newLogger(cfg.Telemetry.Logging, cmd.ErrOrStderr())
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}

	ctx := cmd.Context()
	st, err := openStore(ctx, cfg.Admission.Store, logger)
	if err != nil {
		return cli.NewCommandError("usage", err)
	}
	defer st.Close()

	var h hooks
	if usageFlags.report && cfg.Audit.Enabled && cfg.Audit.Backend != "memory" {
		sink, err := openAuditSink(cfg.Audit)
		if err != nil {
			logger.Warn("audit log unavailable, report has no alerts", "error", err)
		} else {
			defer sink.Close()
			h.History = audit.AlertHistory{Sink: sink}
		}
	}

	stack, err := buildAdmission(cfg, st, h, logger)
	if err != nil {
		return cli.NewConfigError("", err.Error())
	}

	if usageFlags.report {
		return showReport(cmd, stack.Tracker, tenantID)
	}

	var rows []quota.Usage
	if usageFlags.from != "" {
		rows, err = usageHistory(cmd, stack.Tracker, tenantID)
	} else {
		rows, err = currentUsage(cmd, stack.Tracker, tenantID)
	}
	if err != nil {
		return cli.NewCommandError("usage", err)
	}
	logger.Debug("usage read", "tenant_id", tenantID, "rows", len(rows))

	return render(cmd, usageFlags.output, usageTable(rows))
}

func currentUsage(cmd *cobra.Command, tracker *quota.Tracker, tenantID string) ([]quota.Usage, error) {
	kinds := admission.QuotaKinds()
	if usageFlags.kind != "" {
		kind, err := admission.ParseQuotaKind(usageFlags.kind)
		if err != nil {
			return nil, err
		}
		kinds = []admission.QuotaKind{kind}
	}

	now := time.Now()
	rows := make([]quota.Usage, 0, len(kinds))
	for _, kind := range kinds {
		u, err := tracker.ReportUsage(cmd.Context(), tenantID, kind, now)
		if err != nil {
			// A plan may leave a kind out; only an explicit --kind makes that an error.
			if usageFlags.kind == "" && errors.Is(err, admission.ErrConfigInvalid) {
				slog.Debug("skipping kind without ceiling", "kind", kind)
				continue
			}
			return nil, err
		}
		rows = append(rows, u)
	}
	return rows, nil
}

func usageHistory(cmd *cobra.Command, tracker *quota.Tracker, tenantID string) ([]quota.Usage, error) {
	if usageFlags.kind == "" {
		return nil, errors.New("--from requires --kind")
	}
	kind, err := admission.ParseQuotaKind(usageFlags.kind)
	if err != nil {
		return nil, err
	}

	from, err := parseDate(usageFlags.from)
	if err != nil {
		return nil, fmt.Errorf("invalid --from: %w", err)
	}
	to := time.Now()
	if usageFlags.to != "" {
		if to, err = parseDate(usageFlags.to); err != nil {
			return nil, fmt.Errorf("invalid --to: %w", err)
		}
	}

	return tracker.UsageHistory(cmd.Context(), tenantID, kind, from, to)
}

func showReport(cmd *cobra.Command, tracker *quota.Tracker, tenantID string) error {
	if usageFlags.kind != "" {
		return cli.NewCommandError("usage", errors.New("--report covers every kind; drop --kind"))
	}

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -6)
	var err error
	if usageFlags.from != "" {
		if from, err = parseDate(usageFlags.from); err != nil {
			return cli.NewCommandError("usage", fmt.Errorf("invalid --from: %w", err))
		}
	}
	if usageFlags.to != "" {
		if to, err = parseDate(usageFlags.to); err != nil {
			return cli.NewCommandError("usage", fmt.Errorf("invalid --to: %w", err))
		}
	}

	rep, err := tracker.Report(cmd.Context(), tenantID, from, to)
	if err != nil {
		return cli.NewCommandError("usage", err)
	}

	if err := render(cmd, usageFlags.output, reportTable(rep)); err != nil {
		return err
	}
	if f, _ := cli.ParseOutputFormat(usageFlags.output); f != cli.FormatText {
		return nil
	}

	out := cmd.OutOrStdout()
	switch {
	case rep.AlertsUnavailable:
		fmt.Fprintln(out, "\nAlerts unavailable")
	case len(rep.Alerts) > 0:
		fmt.Fprintln(out)
		return render(cmd, usageFlags.output, alertTable(rep.Alerts))
	}
	return nil
}

func reportTable(rep quota.Report) *cli.Table {
	t := &cli.Table{
		Headers: []string{"KIND", "PERIODS", "TOTAL", "AVERAGE", "MAX", "MIN", "TREND"},
		Data:    rep,
	}
	for _, k := range rep.Kinds {
		t.Rows = append(t.Rows, []string{
			string(k.Kind),
			strconv.Itoa(len(k.Periods)),
			strconv.FormatInt(k.Total, 10),
			strconv.FormatFloat(k.Average, 'f', 2, 64),
			strconv.FormatInt(k.Max, 10),
			strconv.FormatInt(k.Min, 10),
			string(k.Trend),
		})
	}
	return t
}

func alertTable(alerts []quota.ReportAlert) *cli.Table {
	t := &cli.Table{
		Headers: []string{"AT", "KIND", "PERIOD", "SEVERITY", "USED", "LIMIT", "PERCENT"},
		Data:    alerts,
	}
	for _, a := range alerts {
		t.Rows = append(t.Rows, []string{
			formatTime(a.At),
			string(a.Kind),
			a.Period,
			string(a.Severity),
			strconv.FormatInt(a.Used, 10),
			strconv.FormatInt(a.Limit, 10),
			strconv.FormatFloat(a.Percent, 'f', 1, 64),
		})
	}
	return t
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func usageTable(rows []quota.Usage) *cli.Table {
	t := &cli.Table{
		Headers: []string{"TENANT", "KIND", "PERIOD", "USED", "LIMIT", "REMAINING", "RESETS"},
		Data:    rows,
	}
	for _, u := range rows {
		limit, remaining := strconv.FormatInt(u.Limit, 10), strconv.FormatInt(u.Remaining, 10)
		if u.Unlimited {
			limit, remaining = "unlimited", "unlimited"
		}
		t.Rows = append(t.Rows, []string{
			u.TenantID,
			string(u.Kind),
			u.Period,
			strconv.FormatInt(u.Used, 10),
			limit,
			remaining,
			formatTime(u.ResetAt),
		})
	}
	return t
}
