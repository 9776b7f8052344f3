package plan

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherConfig configures the plans file watcher.
type WatcherConfig struct {
	// Path is the YAML plans file.
	Path string

	// Base is the catalog the file overlays. Default: DefaultCatalog()
	Base Catalog

	// DebounceInterval is the quiet period after the last file event before
	// a reload runs. Default: 250ms
	DebounceInterval time.Duration
}

// Watcher reloads a plans file into a Holder whenever it changes.
// A file that fails to parse or validate is rejected and the previous
// snapshot keeps serving.
type Watcher struct {
	watcher  *fsnotify.Watcher
	holder   *Holder
	logger   *slog.Logger
	config   WatcherConfig
	debounce *Debouncer

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	// onReload is called after every reload attempt. Used by tests.
	onReload func(err error)
}

// NewWatcher creates a watcher for cfg.Path feeding holder.
func NewWatcher(cfg WatcherConfig, holder *Holder, logger *slog.Logger) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("plans file path cannot be empty")
	}
	if holder == nil {
		return nil, fmt.Errorf("holder cannot be nil")
	}
	if cfg.Base == nil {
		cfg.Base = DefaultCatalog()
	}
	if cfg.DebounceInterval == 0 {
		cfg.DebounceInterval = 250 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		watcher:  fw,
		holder:   holder,
		logger:   logger.With("component", "plan.watcher"),
		config:   cfg,
		debounce: NewDebouncer(cfg.DebounceInterval),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Reload reads the plans file and swaps it into the holder.
func (w *Watcher) Reload() error {
	snap, err := LoadFile(w.config.Path, w.config.Base)
	if err == nil {
		err = w.holder.Swap(snap)
	}

	if err != nil {
		w.logger.Error("Plans reload rejected, keeping previous catalog",
			"path", w.config.Path,
			"error", err,
		)
	} else {
		w.logger.Info("Plans reloaded",
			"path", w.config.Path,
			"version", w.holder.Version(),
		)
	}

	if w.onReload != nil {
		w.onReload(err)
	}
	return err
}

// Watch blocks until ctx is cancelled or Stop is called, reloading the file
// after each burst of changes. The parent directory is watched so editors
// that replace the file by rename are picked up.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		close(w.doneCh)
	}()

	dir := filepath.Dir(w.config.Path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %q: %w", dir, err)
	}

	w.logger.Info("Plans watcher started",
		"path", w.config.Path,
		"debounce_ms", w.config.DebounceInterval.Milliseconds(),
	)

	target := filepath.Clean(w.config.Path)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Plans watcher stopped (context cancelled)")
			return nil

		case <-w.stopCh:
			w.logger.Info("Plans watcher stopped")
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			w.logger.Debug("Plans file event", "op", event.Op.String())
			w.debounce.Trigger(func() {
				_ = w.Reload()
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("Plans watcher error", "error", err)
		}
	}
}

// Stop stops a running watcher and releases its resources.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	running := w.running
	w.mu.Unlock()

	if running {
		close(w.stopCh)
		<-w.doneCh
	}

	w.debounce.Stop()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Debouncer coalesces bursts of events into one callback after a quiet period.
type Debouncer struct {
	interval time.Duration
	timer    *time.Timer
	mu       sync.Mutex
	callback func()
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewDebouncer creates a debouncer with the given quiet period.
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Trigger schedules callback, replacing any callback still pending.
func (d *Debouncer) Trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.callback = callback
	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.interval, func() {
		select {
		case <-d.stopCh:
			return
		default:
		}

		d.mu.Lock()
		cb := d.callback
		d.mu.Unlock()

		if cb != nil {
			cb()
		}
	})
}

// Stop cancels any pending callback. It is idempotent.
func (d *Debouncer) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.callback = nil
}
