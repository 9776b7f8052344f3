package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"keywordlab/gatekeeper/pkg/admission"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS decisions (
    id TEXT PRIMARY KEY,
    at_ms INTEGER NOT NULL,
    tenant_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    endpoint TEXT NOT NULL,
    operation TEXT NOT NULL,
    amount INTEGER NOT NULL,
    outcome TEXT NOT NULL,
    denied_by TEXT,
    quota_kind TEXT,
    limit_value INTEGER NOT NULL,
    remaining INTEGER NOT NULL,
    reset_ms INTEGER NOT NULL,
    reason TEXT
);
CREATE INDEX IF NOT EXISTS idx_decisions_tenant_at ON decisions(tenant_id, at_ms);
CREATE INDEX IF NOT EXISTS idx_decisions_at ON decisions(at_ms);

CREATE TABLE IF NOT EXISTS quota_alerts (
    id TEXT PRIMARY KEY,
    at_ms INTEGER NOT NULL,
    tenant_id TEXT NOT NULL,
    quota_kind TEXT NOT NULL,
    period TEXT NOT NULL,
    severity TEXT NOT NULL,
    threshold REAL NOT NULL,
    used INTEGER NOT NULL,
    limit_value INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_quota_alerts_tenant_at ON quota_alerts(tenant_id, at_ms);
`

// SQLiteConfig configures a SQLiteSink.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// BusyTimeout is how long writers wait on a locked database.
	// Default: 5s
	BusyTimeout time.Duration

	// MaxOpenConns limits the connection pool. Default: 4
	MaxOpenConns int
}

// SQLiteSink stores audit entries in a SQLite database.
type SQLiteSink struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteSink opens (or creates) the database at cfg.Path.
func NewSQLiteSink(cfg SQLiteConfig) (*SQLiteSink, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("audit sqlite path is required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 4
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d", cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create audit schema: %w", err)
	}

	logger := slog.Default().With("component", "audit.sqlite")
	logger.Info("Audit database opened", "path", cfg.Path)

	return &SQLiteSink{db: db, logger: logger}, nil
}

// WriteEvent implements Sink.
func (s *SQLiteSink) WriteEvent(ctx context.Context, e *Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (
			id, at_ms, tenant_id, user_id, endpoint, operation, amount,
			outcome, denied_by, quota_kind, limit_value, remaining, reset_ms, reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.At.UnixMilli(), e.TenantID, e.UserID, e.Endpoint, e.Operation, e.Amount,
		string(e.Outcome), nullable(string(e.DeniedBy)), nullable(string(e.QuotaKind)),
		e.Limit, e.Remaining, unixMilli(e.ResetAt), nullable(e.Reason),
	)
	if err != nil {
		return fmt.Errorf("failed to insert decision %s: %w", e.ID, err)
	}
	return nil
}

// WriteAlert implements Sink.
func (s *SQLiteSink) WriteAlert(ctx context.Context, a *Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quota_alerts (
			id, at_ms, tenant_id, quota_kind, period, severity, threshold, used, limit_value
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.At.UnixMilli(), a.TenantID, string(a.Kind), a.Period,
		string(a.Severity), a.Threshold, a.Used, a.Limit,
	)
	if err != nil {
		return fmt.Errorf("failed to insert quota alert %s: %w", a.ID, err)
	}
	return nil
}

// Events implements Sink.
func (s *SQLiteSink) Events(ctx context.Context, q Query) ([]*Event, error) {
	where, args := whereClause(q, true)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, at_ms, tenant_id, user_id, endpoint, operation, amount,
		       outcome, COALESCE(denied_by, ''), COALESCE(quota_kind, ''),
		       limit_value, remaining, reset_ms, COALESCE(reason, '')
		FROM decisions`+where+` ORDER BY at_ms DESC LIMIT ?`,
		append(args, q.limit())...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var (
			e                           Event
			atMs, resetMs               int64
			outcome, deniedBy, kindName string
		)
		if err := rows.Scan(&e.ID, &atMs, &e.TenantID, &e.UserID, &e.Endpoint, &e.Operation, &e.Amount,
			&outcome, &deniedBy, &kindName, &e.Limit, &e.Remaining, &resetMs, &e.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		e.At = time.UnixMilli(atMs).UTC()
		e.Outcome = admission.Outcome(outcome)
		e.DeniedBy = admission.Mechanism(deniedBy)
		e.QuotaKind = admission.QuotaKind(kindName)
		if resetMs > 0 {
			e.ResetAt = time.UnixMilli(resetMs).UTC()
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Alerts implements Sink.
func (s *SQLiteSink) Alerts(ctx context.Context, q Query) ([]*Alert, error) {
	where, args := whereClause(q, false)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, at_ms, tenant_id, quota_kind, period, severity, threshold, used, limit_value
		FROM quota_alerts`+where+` ORDER BY at_ms DESC LIMIT ?`,
		append(args, q.limit())...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query quota alerts: %w", err)
	}
	defer rows.Close()

	var out []*Alert
	for rows.Next() {
		var (
			a              Alert
			atMs           int64
			kind, severity string
		)
		if err := rows.Scan(&a.ID, &atMs, &a.TenantID, &kind, &a.Period, &severity,
			&a.Threshold, &a.Used, &a.Limit); err != nil {
			return nil, fmt.Errorf("failed to scan quota alert: %w", err)
		}
		a.At = time.UnixMilli(atMs).UTC()
		a.Kind = admission.QuotaKind(kind)
		a.Severity = admission.Severity(severity)
		out = append(out, &a)
	}
	return out, rows.Err()
}

// DeleteEventsBefore implements Sink.
func (s *SQLiteSink) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteBefore(ctx, "decisions", cutoff)
}

// DeleteAlertsBefore implements Sink.
func (s *SQLiteSink) DeleteAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteBefore(ctx, "quota_alerts", cutoff)
}

func (s *SQLiteSink) deleteBefore(ctx context.Context, table string, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE at_ms < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted rows: %w", err)
	}
	return n, nil
}

// Close implements Sink.
func (s *SQLiteSink) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close audit database: %w", err)
	}
	return nil
}

func whereClause(q Query, events bool) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if q.TenantID != "" {
		conds = append(conds, "tenant_id = ?")
		args = append(args, q.TenantID)
	}
	if !q.From.IsZero() {
		conds = append(conds, "at_ms >= ?")
		args = append(args, q.From.UnixMilli())
	}
	if !q.To.IsZero() {
		conds = append(conds, "at_ms < ?")
		args = append(args, q.To.UnixMilli())
	}
	if events && q.Outcome != "" {
		conds = append(conds, "outcome = ?")
		args = append(args, string(q.Outcome))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
