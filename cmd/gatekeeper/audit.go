package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"keywordlab/gatekeeper/pkg/admission"
	"keywordlab/gatekeeper/pkg/audit"
	"keywordlab/gatekeeper/pkg/cli"
	"keywordlab/gatekeeper/pkg/config"
)

var auditFlags struct {
	tenant  string
	outcome string
	since   time.Duration
	limit   int
	output  string
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect and prune the decision log",
	Long: `Inspect and prune the decision log written by the server.

Only the sqlite audit backend persists outside the server process.

Examples:
  # Last day of denials for one tenant
  gatekeeper audit events --tenant acme --outcome denied --since 24h

  # Quota threshold alerts
  gatekeeper audit alerts --output json

  # Apply the configured retention now
  gatekeeper audit prune`,
}

var auditEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List recorded admission decisions",
	RunE:  listAuditEvents,
}

var auditAlertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List recorded quota alerts",
	RunE:  listAuditAlerts,
}

var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete entries older than the configured retention",
	RunE:  pruneAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditEventsCmd, auditAlertsCmd, auditPruneCmd)

	for _, c := range []*cobra.Command{auditEventsCmd, auditAlertsCmd} {
		c.Flags().StringVarP(&auditFlags.tenant, "tenant", "t", "", "filter by tenant")
		c.Flags().DurationVar(&auditFlags.since, "since", 0, "only entries newer than this (e.g. 24h)")
		c.Flags().IntVar(&auditFlags.limit, "limit", 100, "maximum number of entries")
		addOutputFlag(c, &auditFlags.output)
	}
	auditEventsCmd.Flags().StringVar(&auditFlags.outcome, "outcome", "", "filter by outcome: allowed, denied, degraded, unmetered")
}

// openPersistentAudit opens the configured audit sink, refusing backends
// that only live inside the server process.
func openPersistentAudit() (*config.Config, audit.Sink, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Audit.Backend == "memory" {
		return nil, nil, cli.NewCommandError("audit", errors.New("the memory audit backend is local to the server process"))
	}
	sink, err := openAuditSink(cfg.Audit)
	if err != nil {
		return nil, nil, cli.NewCommandError("audit", err)
	}
	return cfg, sink, nil
}

func auditQuery() (audit.Query, error) {
	q := audit.Query{TenantID: auditFlags.tenant, Limit: auditFlags.limit}
	if auditFlags.since > 0 {
		q.From = time.Now().Add(-auditFlags.since)
	}
	switch o := admission.Outcome(auditFlags.outcome); o {
	case "", admission.OutcomeAllowed, admission.OutcomeDenied, admission.OutcomeDegraded, admission.OutcomeUnmetered:
		q.Outcome = o
	default:
		return q, fmt.Errorf("unknown outcome %q", auditFlags.outcome)
	}
	return q, nil
}

func listAuditEvents(cmd *cobra.Command, args []string) error {
	q, err := auditQuery()
	if err != nil {
		return cli.NewCommandError("audit events", err)
	}
	_, sink, err := openPersistentAudit()
	if err != nil {
		return err
	}
	defer sink.Close()

	events, err := sink.Events(cmd.Context(), q)
	if err != nil {
		return cli.NewCommandError("audit events", err)
	}

	t := &cli.Table{
		Headers: []string{"TIME", "TENANT", "USER", "OPERATION", "AMOUNT", "OUTCOME", "DENIED_BY", "QUOTA", "REMAINING", "REASON"},
		Data:    events,
	}
	for _, e := range events {
		t.Rows = append(t.Rows, []string{
			formatTime(e.At),
			e.TenantID,
			e.UserID,
			e.Operation,
			strconv.FormatInt(e.Amount, 10),
			string(e.Outcome),
			string(e.DeniedBy),
			string(e.QuotaKind),
			strconv.FormatInt(e.Remaining, 10),
			e.Reason,
		})
	}
	return render(cmd, auditFlags.output, t)
}

func listAuditAlerts(cmd *cobra.Command, args []string) error {
	q, err := auditQuery()
	if err != nil {
		return cli.NewCommandError("audit alerts", err)
	}
	_, sink, err := openPersistentAudit()
	if err != nil {
		return err
	}
	defer sink.Close()

	alerts, err := sink.Alerts(cmd.Context(), q)
	if err != nil {
		return cli.NewCommandError("audit alerts", err)
	}

	t := &cli.Table{
		Headers: []string{"TIME", "TENANT", "KIND", "PERIOD", "SEVERITY", "USED", "LIMIT"},
		Data:    alerts,
	}
	for _, a := range alerts {
		t.Rows = append(t.Rows, []string{
			formatTime(a.At),
			a.TenantID,
			string(a.Kind),
			a.Period,
			string(a.Severity),
			strconv.FormatInt(a.Used, 10),
			formatCeiling(a.Limit),
		})
	}
	return render(cmd, auditFlags.output, t)
}

func pruneAudit(cmd *cobra.Command, args []string) error {
	cfg, sink, err := openPersistentAudit()
	if err != nil {
		return err
	}
	defer sink.Close()

	events, alerts := cfg.Audit.Retention.Retention()
	n, err := audit.NewScheduler(sink, audit.RetentionConfig{
		EventRetention: events,
		AlertRetention: alerts,
	}).Prune(cmd.Context())
	if err != nil {
		return cli.NewCommandError("audit prune", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Pruned %d entries\n", n)
	return nil
}
