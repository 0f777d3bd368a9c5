package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] checks its file.
const DefaultWatchInterval = 5 * time.Second

// stamp identifies one version of the watched file. The cheap stat fields
// gate the read; sum decides whether the content really changed.
type stamp struct {
	mtime time.Time
	size  int64
	sum   [sha256.Size]byte
}

// Watcher hot-reloads a config file. Each valid new version is handed to the
// change callback; invalid edits are logged and ignored.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	log      *slog.Logger

	current atomic.Pointer[Config]
	last    stamp // owned by the Watch goroutine
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval overrides [DefaultWatchInterval]. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLogger sets the logger for reload events. The default is slog.Default().
func WithLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.log = l }
}

// NewWatcher loads path once and returns a Watcher ready to [Watcher.Watch]
// it. onChange may be nil.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: DefaultWatchInterval, onChange: onChange, log: slog.Default()}
	for _, o := range opts {
		o(w)
	}
	cfg, st, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current.Store(cfg)
	w.last = st
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config { return w.current.Load() }

// Watch polls the file until ctx is done and always returns ctx.Err().
func (w *Watcher) Watch(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.log.Warn("config: cannot stat watched file", "path", w.path, "err", err)
		return
	}
	if info.ModTime().Equal(w.last.mtime) && info.Size() == w.last.size {
		return
	}

	cfg, st, err := w.load()
	if err != nil {
		w.log.Warn("config: rejected edit, keeping previous config", "path", w.path, "err", err)
		return
	}
	changed := st.sum != w.last.sum
	w.last = st
	if !changed {
		return
	}

	old := w.current.Swap(cfg)
	w.log.Info("config: reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

func (w *Watcher) load() (*Config, stamp, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, stamp{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, stamp{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, stamp{}, err
	}
	return cfg, stamp{mtime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}, nil
}
