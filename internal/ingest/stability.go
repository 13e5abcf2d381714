package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"git.home.luguber.info/inful/statewatch/internal/container"
)

// StabilityConfig controls the wait-for-stable poll loop.
type StabilityConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	StableWindow time.Duration `yaml:"stable_window"`
	MaxWait      time.Duration `yaml:"max_wait"`
}

// DefaultStability returns the tuned polling defaults.
func DefaultStability() StabilityConfig {
	return StabilityConfig{
		PollInterval: 200 * time.Millisecond,
		StableWindow: 600 * time.Millisecond,
		MaxWait:      10 * time.Second,
	}
}

type fileSig struct {
	size int64
	mod  time.Time
}

// WaitForStable polls size and mtime until the file has been unchanged for
// the stable window AND opens as a valid container. A container that fails to
// open resets the window (the writer is still flushing). superseded is
// checked before every poll so a newer notification aborts the wait.
func WaitForStable(ctx context.Context, path string, cfg StabilityConfig, superseded func() bool) error {
	if cfg.PollInterval <= 0 {
		cfg = DefaultStability()
	}
	deadline := time.Now().Add(cfg.MaxWait)
	var last *fileSig
	var stableSince time.Time

	for {
		if superseded != nil && superseded() {
			return ErrSuperseded
		}

		fi, err := os.Stat(path)
		switch {
		case err != nil:
			last = nil
		default:
			sig := fileSig{size: fi.Size(), mod: fi.ModTime()}
			if last == nil || *last != sig {
				last = &sig
				stableSince = time.Now()
			} else if time.Since(stableSince) >= cfg.StableWindow {
				c, openErr := container.Open(path)
				if openErr == nil {
					_ = c.Close()
					return nil
				}
				if !errors.Is(openErr, container.ErrCorrupt) {
					return fmt.Errorf("probe container: %w", openErr)
				}
				// Still being written; start over.
				last = nil
			}
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s after %s", ErrNotStable, path, cfg.MaxWait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.PollInterval):
		}
	}
}
