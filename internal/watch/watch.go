// Package watch monitors save directories for rewritten state containers and
// publishes detection events onto the bus.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/statewatch/internal/bus"
)

// Config selects what the watcher reacts to.
type Config struct {
	// Dirs are the directories to watch. Non-recursive.
	Dirs []string `yaml:"dirs"`

	// Suffix filters file names; empty accepts everything.
	Suffix string `yaml:"suffix"`

	// Debounce coalesces the write burst a single container rewrite
	// produces into one detection per path.
	Debounce time.Duration `yaml:"debounce"`
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{Suffix: ".sav", Debounce: 500 * time.Millisecond}
}

// Watcher turns filesystem events into StateFileDetected bus events.
type Watcher struct {
	cfg      Config
	eventBus *bus.Bus
	logger   *slog.Logger
	fsw      *fsnotify.Watcher

	mu     sync.Mutex
	timers map[string]*time.Timer

	stopOnce sync.Once
	stopChan chan struct{}
}

// New creates a watcher over cfg.Dirs. The directories must exist.
func New(cfg Config, eventBus *bus.Bus, logger *slog.Logger) (*Watcher, error) {
	if len(cfg.Dirs) == 0 {
		return nil, fmt.Errorf("watch: no directories configured")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultConfig().Debounce
	}
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	for _, dir := range cfg.Dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			fsw.Close()
			return nil, fmt.Errorf("resolve watch dir %s: %w", dir, err)
		}
		if err := fsw.Add(abs); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch directory %s: %w", abs, err)
		}
	}

	return &Watcher{
		cfg:      cfg,
		eventBus: eventBus,
		logger:   logger,
		fsw:      fsw,
		timers:   map[string]*time.Timer{},
		stopChan: make(chan struct{}),
	}, nil
}

// Start begins the watch loop.
func (w *Watcher) Start(ctx context.Context) {
	w.logger.Info("watching save directories",
		slog.Any("dirs", w.cfg.Dirs),
		slog.String("suffix", w.cfg.Suffix))
	go w.loop(ctx)
}

// Stop closes the underlying watcher and cancels pending debounce timers.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		if err := w.fsw.Close(); err != nil {
			w.logger.Error("closing file watcher", slog.String("error", err.Error()))
		}
		w.mu.Lock()
		for _, t := range w.timers {
			t.Stop()
		}
		w.mu.Unlock()
	})
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.schedule(ctx, event.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watch error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") {
		return false
	}
	if w.cfg.Suffix != "" && !strings.HasSuffix(name, w.cfg.Suffix) {
		return false
	}
	return true
}

// schedule arms (or re-arms) the per-path debounce timer. A rewrite emits
// many Write events; only the last one within the window produces a
// detection.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.cfg.Debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.emit(ctx, path)
	})
}

func (w *Watcher) emit(ctx context.Context, path string) {
	select {
	case <-w.stopChan:
		return
	default:
	}

	w.logger.Debug("state file detected", slog.String("path", path))
	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	evt := bus.StateFileDetected{Path: path, ObservedAt: time.Now()}
	if err := w.eventBus.Publish(pubCtx, evt); err != nil {
		w.logger.Warn("publish detection failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
}
