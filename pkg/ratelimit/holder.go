package ratelimit

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
)

// Holder provides thread-safe access to a fallback limits document
// with hot reload. The bot prefers each repository's own config;
// the holder supplies the operator's fallback for repositories that
// have none, without a restart when the document changes.
type Holder struct {
	cfg      *Config
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	path     string
	onChange []func(*Config)
	mu       sync.RWMutex
	stopOnce sync.Once
}

// NewHolder creates a holder for the document at path and loads the
// initial config. A missing or malformed document starts as defaults;
// hot reload picks the document up once it becomes readable.
func NewHolder(path string, logger *slog.Logger) (*Holder, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve fallback config path: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Holder{
		cfg:    LoadConfig(absPath),
		path:   absPath,
		logger: logger,
		stopCh: make(chan struct{}),
	}, nil
}

// Get returns the current config.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// OnChange registers a callback invoked after every successful reload.
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// Reload re-reads the document from disk. On failure the previous
// config stays in effect and the error is returned.
func (h *Holder) Reload() error {
	data, err := os.ReadFile(h.path)
	if err != nil {
		return fmt.Errorf("failed to read fallback config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return fmt.Errorf("failed to reload fallback config: %w", err)
	}

	h.mu.Lock()
	h.cfg = cfg
	callbacks := make([]func(*Config), len(h.onChange))
	copy(callbacks, h.onChange)
	h.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
	h.logger.Info("Fallback rate limit config reloaded", "path", h.path)
	return nil
}

// WatchFile watches the document for changes and reloads on write or
// create. The parent directory is watched because editors and config
// management tools replace files atomically.
func (h *Holder) WatchFile() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		if cerr := watcher.Close(); cerr != nil {
			h.logger.Warn("Failed to close config watcher", "error", cerr)
		}
		return fmt.Errorf("failed to watch config directory: %w", err)
	}
	h.watcher = watcher

	go h.watchLoop()
	h.logger.Info("Watching fallback rate limit config", "path", h.path)
	return nil
}

// WatchSignals reloads the document on SIGHUP.
func (h *Holder) WatchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		for {
			select {
			case <-sigCh:
				h.logger.Info("Received SIGHUP, reloading fallback config")
				if err := h.Reload(); err != nil {
					h.logger.Warn("SIGHUP reload failed, keeping previous config", "error", err)
				}
			case <-h.stopCh:
				signal.Stop(sigCh)
				return
			}
		}
	}()
}

// Stop ends file and signal watching. Safe to call more than once.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if h.watcher != nil {
			if err := h.watcher.Close(); err != nil {
				h.logger.Warn("Failed to close config watcher", "error", err)
			}
		}
	})
}

func (h *Holder) watchLoop() {
	filename := filepath.Base(h.path)
	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := h.Reload(); err != nil {
					h.logger.Warn("Config reload failed, keeping previous config", "error", err)
				}
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Warn("Config watcher error", "error", err)
		case <-h.stopCh:
			return
		}
	}
}
