package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls a config file and calls a callback with the previous and the
// new [Config] whenever the file content changes and still validates. Invalid
// edits are logged and ignored so a typo never takes the server down.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu        sync.Mutex
	current   *Config
	lastMtime time.Time
	lastHash  [sha256.Size]byte

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the file at path and starts polling it in a background
// goroutine. onChange may be nil.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = snap.cfg
	w.lastHash = snap.hash
	w.lastMtime = snap.mtime

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload reads the file immediately, ignoring the modification time. It
// returns the load error, if any, and leaves the current config in place on
// failure. Used for SIGHUP-style manual reloads.
func (w *Watcher) Reload() error {
	snap, err := w.read()
	if err != nil {
		return fmt.Errorf("config: reload %q: %w", w.path, err)
	}
	w.apply(snap)
	return nil
}

// Stop stops the background polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check skips files whose modification time is unchanged and applies the
// rest through [Watcher.apply].
func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.lastMtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	snap, err := w.read()
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}
	w.apply(snap)
}

func (w *Watcher) apply(snap snapshot) {
	w.mu.Lock()
	w.lastMtime = snap.mtime
	if snap.hash == w.lastHash {
		// Touched, content identical.
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = snap.cfg
	w.lastHash = snap.hash
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)

	// Outside the lock so the callback may call Current.
	if w.onChange != nil {
		w.onChange(old, snap.cfg)
	}
}

type snapshot struct {
	cfg   *Config
	hash  [sha256.Size]byte
	mtime time.Time
}

// read loads, parses and validates the file in a single pass.
func (w *Watcher) read() (snapshot, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return snapshot{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return snapshot{}, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return snapshot{}, err
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{cfg: cfg, hash: sha256.Sum256(data), mtime: info.ModTime()}, nil
}
