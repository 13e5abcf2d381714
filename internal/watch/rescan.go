package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/statewatch/internal/bus"
)

// Rescanner periodically sweeps the watched directories and re-announces the
// newest container. It catches rewrites that happened while the process was
// down or that fsnotify missed.
type Rescanner struct {
	cfg       Config
	interval  time.Duration
	eventBus  *bus.Bus
	logger    *slog.Logger
	scheduler gocron.Scheduler

	lastMod time.Time
}

// NewRescanner builds the periodic sweep job. Interval zero disables it.
func NewRescanner(cfg Config, interval time.Duration, eventBus *bus.Bus, logger *slog.Logger) (*Rescanner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Rescanner{cfg: cfg, interval: interval, eventBus: eventBus, logger: logger}
	if interval <= 0 {
		return r, nil
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create rescan scheduler: %w", err)
	}
	r.scheduler = s
	return r, nil
}

// Start registers and starts the sweep job.
func (r *Rescanner) Start(ctx context.Context) error {
	if r.scheduler == nil {
		return nil
	}
	_, err := r.scheduler.NewJob(
		gocron.DurationJob(r.interval),
		gocron.NewTask(r.sweep, ctx),
		gocron.WithName("save-rescan"),
	)
	if err != nil {
		return fmt.Errorf("create rescan job: %w", err)
	}
	r.logger.Info("periodic rescan enabled", slog.Duration("interval", r.interval))
	r.scheduler.Start()
	return nil
}

// Stop shuts the sweep job down.
func (r *Rescanner) Stop() error {
	if r.scheduler == nil {
		return nil
	}
	return r.scheduler.Shutdown()
}

func (r *Rescanner) sweep(ctx context.Context) {
	path, mod, ok := r.newest()
	if !ok || !mod.After(r.lastMod) {
		return
	}
	r.lastMod = mod

	r.logger.Debug("rescan found newer state file", slog.String("path", path))
	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	evt := bus.StateFileDetected{Path: path, ObservedAt: mod}
	if err := r.eventBus.Publish(pubCtx, evt); err != nil {
		r.logger.Warn("publish rescan detection failed", slog.String("error", err.Error()))
	}
}

// newest returns the most recently modified matching file across all dirs.
func (r *Rescanner) newest() (string, time.Time, bool) {
	var bestPath string
	var bestMod time.Time
	for _, dir := range r.cfg.Dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			r.logger.Warn("rescan read dir failed",
				slog.String("dir", dir),
				slog.String("error", err.Error()))
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			name := e.Name()
			if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") {
				continue
			}
			if r.cfg.Suffix != "" && !strings.HasSuffix(name, r.cfg.Suffix) {
				continue
			}
			fi, err := e.Info()
			if err != nil {
				continue
			}
			if fi.ModTime().After(bestMod) {
				bestMod = fi.ModTime()
				bestPath = filepath.Join(dir, name)
			}
		}
	}
	return bestPath, bestMod, bestPath != ""
}
