package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"keywordlab/gatekeeper/pkg/admission"
)

// SQLiteStore implements Store on a SQLite database file.
// Every operation runs in an IMMEDIATE transaction, so several processes on
// the same host can share one database file. It is not suitable for
// multi-host deployments; use RedisStore there.
type SQLiteStore struct {
	db            *sql.DB
	dbPath        string
	now           func() time.Time
	sweepInterval time.Duration
	done          chan struct{}
	closeOnce     sync.Once

	getStmt     *sql.Stmt
	releaseStmt *sql.Stmt
}

// SQLiteStoreConfig configures the SQLite store.
type SQLiteStoreConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// SweepInterval is how often expired rows are deleted and the WAL is
	// checkpointed. Default: 1 minute
	SweepInterval time.Duration

	// BusyTimeout is how long to wait for locks held by other connections.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// Now overrides the clock used for key expiry. Default: time.Now
	Now func() time.Time
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS window_entries (
	key TEXT NOT NULL,
	member TEXT NOT NULL,
	at_ms INTEGER NOT NULL,
	expire_ms INTEGER NOT NULL,
	PRIMARY KEY (key, member)
);

CREATE INDEX IF NOT EXISTS idx_window_entries_at ON window_entries(key, at_ms);
CREATE INDEX IF NOT EXISTS idx_window_entries_expire ON window_entries(expire_ms);

CREATE TABLE IF NOT EXISTS counters (
	key TEXT PRIMARY KEY,
	value INTEGER NOT NULL,
	expire_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_counters_expire ON counters(expire_ms);
`

// NewSQLiteStore opens (or creates) a SQLite store with default settings.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(SQLiteStoreConfig{DBPath: dbPath})
}

// NewSQLiteStoreWithConfig opens (or creates) a SQLite store.
func NewSQLiteStoreWithConfig(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		cfg.DBPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:            db,
		dbPath:        cfg.DBPath,
		now:           cfg.Now,
		sweepInterval: cfg.SweepInterval,
		done:          make(chan struct{}),
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go s.sweepLoop()

	return s, nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.getStmt, err = s.db.Prepare(`
		SELECT value FROM counters
		WHERE key = ? AND (expire_ms = 0 OR expire_ms > ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get statement: %w", err)
	}

	s.releaseStmt, err = s.db.Prepare(`
		UPDATE counters SET value = MAX(value - ?, 0)
		WHERE key = ? AND (expire_ms = 0 OR expire_ms > ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare release statement: %w", err)
	}

	return nil
}

// SlidingWindow implements Store.
func (s *SQLiteStore) SlidingWindow(ctx context.Context, key string, now time.Time, limits []WindowLimit, member string) (WindowResult, error) {
	if err := validateLimits(key, limits); err != nil {
		return WindowResult{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return WindowResult{}, wrapSQLiteErr("begin", err)
	}
	defer tx.Rollback()

	nowMs := now.UnixMilli()
	wallMs := s.now().UnixMilli()
	longest := longestWindow(limits)

	// Rows past their key expiry are gone even if the sweeper has not run.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM window_entries WHERE key = ? AND (at_ms < ? OR expire_ms <= ?)`,
		key, nowMs-longest.Milliseconds(), wallMs,
	); err != nil {
		return WindowResult{}, wrapSQLiteErr("trim window", err)
	}

	res := WindowResult{Allowed: true, Layers: make([]LayerResult, len(limits))}
	for i, l := range limits {
		var (
			count  int64
			oldest sql.NullInt64
		)
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*), MIN(at_ms) FROM window_entries WHERE key = ? AND at_ms >= ?`,
			key, nowMs-l.Window.Milliseconds(),
		).Scan(&count, &oldest); err != nil {
			return WindowResult{}, wrapSQLiteErr("count window", err)
		}

		layer := LayerResult{Count: count, Oldest: now}
		if oldest.Valid && oldest.Int64 < nowMs {
			layer.Oldest = time.UnixMilli(oldest.Int64)
		}
		res.Layers[i] = layer
		if layer.Full(l.Limit) {
			res.Allowed = false
		}
	}

	if !res.Allowed {
		if err := tx.Commit(); err != nil {
			return WindowResult{}, wrapSQLiteErr("commit", err)
		}
		return res, nil
	}

	expireMs := wallMs + longest.Milliseconds() + 1
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO window_entries (key, member, at_ms, expire_ms) VALUES (?, ?, ?, ?)
		ON CONFLICT (key, member) DO NOTHING`,
		key, member, nowMs, expireMs,
	); err != nil {
		return WindowResult{}, wrapSQLiteErr("insert window", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE window_entries SET expire_ms = ? WHERE key = ?`, expireMs, key,
	); err != nil {
		return WindowResult{}, wrapSQLiteErr("expire window", err)
	}

	if err := tx.Commit(); err != nil {
		return WindowResult{}, wrapSQLiteErr("commit", err)
	}

	return res, nil
}

// Reserve implements Store.
func (s *SQLiteStore) Reserve(ctx context.Context, key string, amount, ceiling int64, expireAt time.Time) (CounterResult, error) {
	if key == "" {
		return CounterResult{}, fmt.Errorf("key cannot be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CounterResult{}, wrapSQLiteErr("begin", err)
	}
	defer tx.Rollback()

	var used int64
	err = tx.StmtContext(ctx, s.getStmt).QueryRowContext(ctx, key, s.now().UnixMilli()).Scan(&used)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return CounterResult{}, wrapSQLiteErr("read counter", err)
	}

	if amount > ceiling-used {
		if err := tx.Commit(); err != nil {
			return CounterResult{}, wrapSQLiteErr("commit", err)
		}
		return CounterResult{Allowed: false, Used: used}, nil
	}

	var expireMs int64
	if !expireAt.IsZero() {
		expireMs = expireAt.UnixMilli()
	}

	// used is 0 for expired rows, so the upsert writes the fresh value.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO counters (key, value, expire_ms) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, expire_ms = excluded.expire_ms`,
		key, used+amount, expireMs,
	); err != nil {
		return CounterResult{}, wrapSQLiteErr("write counter", err)
	}

	if err := tx.Commit(); err != nil {
		return CounterResult{}, wrapSQLiteErr("commit", err)
	}

	return CounterResult{Allowed: true, Used: used}, nil
}

// Release implements Store.
func (s *SQLiteStore) Release(ctx context.Context, key string, amount int64) error {
	if _, err := s.releaseStmt.ExecContext(ctx, amount, key, s.now().UnixMilli()); err != nil {
		return wrapSQLiteErr("release", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) (int64, error) {
	var v int64
	err := s.getStmt.QueryRowContext(ctx, key, s.now().UnixMilli()).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, wrapSQLiteErr("get", err)
	}
	return v, nil
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return wrapSQLiteErr("ping", err)
	}
	return nil
}

// Cleanup deletes expired window entries and counters.
func (s *SQLiteStore) Cleanup(ctx context.Context) (int, error) {
	nowMs := s.now().UnixMilli()

	var deleted int64
	for _, q := range []string{
		`DELETE FROM window_entries WHERE expire_ms <= ?`,
		`DELETE FROM counters WHERE expire_ms > 0 AND expire_ms <= ?`,
	} {
		res, err := s.db.ExecContext(ctx, q, nowMs)
		if err != nil {
			return int(deleted), fmt.Errorf("failed to cleanup: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return int(deleted), fmt.Errorf("failed to get rows affected: %w", err)
		}
		deleted += n
	}

	return int(deleted), nil
}

// Close releases the database. It is idempotent.
func (s *SQLiteStore) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)

		if s.getStmt != nil {
			s.getStmt.Close()
		}
		if s.releaseStmt != nil {
			s.releaseStmt.Close()
		}

		if s.db != nil {
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})

	return closeErr
}

// sweepLoop deletes expired rows and checkpoints the WAL.
func (s *SQLiteStore) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.sweepInterval)
			_, _ = s.Cleanup(ctx)
			cancel()
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}

func wrapSQLiteErr(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("sqlite %s: %w", op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("sqlite %s: %w: %w", op, admission.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("sqlite %s: %w: %v", op, admission.ErrStoreUnavailable, err)
}
