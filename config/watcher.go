package config

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Swind/go-frame-scheduler/core"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher reloads a config file when it changes on disk and hands each new
// valid version to the registered handlers. Invalid or unchanged files are
// logged and skipped; the last good config stays current.
type Watcher struct {
	path     string
	logger   core.Logger
	debounce time.Duration

	mu       sync.RWMutex
	current  *Config
	lastHash uint64

	handlersMu sync.Mutex
	handlers   []func(*Config)
}

// NewWatcher creates a watcher for path. initial is the config already in
// use (may be nil) and a nil logger discards output.
func NewWatcher(path string, initial *Config, logger core.Logger) *Watcher {
	if logger == nil {
		logger = core.NewNoOpLogger()
	}
	return &Watcher{
		path:     path,
		logger:   logger,
		debounce: defaultDebounce,
		current:  initial,
		lastHash: hashConfig(initial),
	}
}

// SetDebounce changes how long the watcher waits after the last file event
// before reloading.
func (w *Watcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounce = d
	}
}

// OnChange registers fn to be called with every newly committed config.
func (w *Watcher) OnChange(fn func(*Config)) {
	if fn == nil {
		return
	}
	w.handlersMu.Lock()
	w.handlers = append(w.handlers, fn)
	w.handlersMu.Unlock()
}

// Current returns the last committed config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Reload reads the file now. It reports whether a new config was committed.
func (w *Watcher) Reload() (bool, error) {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed", core.F("path", w.path), core.F("error", err))
		return false, err
	}

	h := hashConfig(cfg)
	w.mu.Lock()
	if h != 0 && h == w.lastHash {
		w.mu.Unlock()
		w.logger.Debug("config unchanged", core.F("path", w.path))
		return false, nil
	}
	w.current = cfg
	w.lastHash = h
	w.mu.Unlock()

	w.handlersMu.Lock()
	handlers := append(([]func(*Config))(nil), w.handlers...)
	w.handlersMu.Unlock()
	for _, fn := range handlers {
		fn(cfg)
	}
	w.logger.Info("config reloaded", core.F("path", w.path), core.F("frame_interval", cfg.FrameInterval()))
	return true, nil
}

// Watch blocks until ctx is done, reloading after changes to the file.
// The parent directory is watched so editors that replace the file are seen.
func (w *Watcher) Watch(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	file := filepath.Base(w.path)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(dir); err != nil {
		return err
	}
	w.logger.Debug("config watcher started", core.F("dir", dir), core.F("file", file))

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	schedule := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, func() {
			if ctx.Err() != nil {
				return
			}
			_, _ = w.Reload()
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !strings.EqualFold(filepath.Base(ev.Name), file) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				schedule()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			if err != nil {
				w.logger.Warn("config watch error", core.F("error", err), core.F("dir", dir))
			}
		}
	}
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil || len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
