package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLiteStore(t *testing.T, cfg SQLiteStoreConfig) *SQLiteStore {
	t.Helper()

	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(t.TempDir(), "counters.db")
	}
	s, err := NewSQLiteStoreWithConfig(cfg)
	if err != nil {
		t.Fatalf("Failed to create sqlite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

func TestSQLiteStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		return newTestSQLiteStore(t, SQLiteStoreConfig{})
	})
}

func TestNewSQLiteStore_EmptyPath(t *testing.T) {
	if _, err := NewSQLiteStore(""); err == nil {
		t.Error("Expected error for empty path")
	}
}

func TestSQLiteStore_Persistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "counters.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if _, err := s.Reserve(ctx, "k", 7, 10, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s, err = NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer s.Close()

	if v, _ := s.Get(ctx, "k"); v != 7 {
		t.Errorf("Expected 7 after reopen, got %d", v)
	}
}

func TestSQLiteStore_Expiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	s := newTestSQLiteStore(t, SQLiteStoreConfig{Now: clock.Now})
	ctx := context.Background()

	_, _ = s.Reserve(ctx, "short", 4, 10, clock.Now().Add(time.Minute))
	_, _ = s.Reserve(ctx, "forever", 1, 10, time.Time{})
	_, _ = s.SlidingWindow(ctx, "window", clock.Now(), one(time.Second, 5), "m")

	clock.Advance(2 * time.Minute)

	if v, _ := s.Get(ctx, "short"); v != 0 {
		t.Errorf("Expected expired counter to read 0, got %d", v)
	}

	res, err := s.Reserve(ctx, "short", 10, 10, clock.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if !res.Allowed || res.Used != 0 {
		t.Errorf("Expected fresh counter after expiry, got %+v", res)
	}

	clock.Advance(2 * time.Minute)

	deleted, err := s.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 rows deleted, got %d", deleted)
	}
	if v, _ := s.Get(ctx, "forever"); v != 1 {
		t.Errorf("Expected non-expiring counter to survive, got %d", v)
	}
}
