package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"git.home.luguber.info/inful/statewatch/internal/extract"
	"git.home.luguber.info/inful/statewatch/internal/snapshot"
)

// SubprocessRunner re-execs this binary's extract subcommand so a large-blob
// extraction lives in its own address space. Cancelling the context sends the
// kill signal; WaitDelay bounds how long an unresponsive worker may linger
// before it is forcibly terminated.
type SubprocessRunner struct {
	// Grace is the period between cancellation and forced termination.
	Grace time.Duration

	// ExtraArgs are appended to the extract invocation, e.g. list limits.
	ExtraArgs []string

	Logger *slog.Logger
}

// NewSubprocessRunner returns a runner with a sensible kill grace.
func NewSubprocessRunner(logger *slog.Logger) *SubprocessRunner {
	return &SubprocessRunner{Grace: 3 * time.Second, Logger: logger}
}

func (r *SubprocessRunner) Tier1(ctx context.Context, path string) (extract.Status, error) {
	var st extract.Status
	if err := r.run(ctx, path, "1", &st); err != nil {
		return extract.Status{}, err
	}
	return st, nil
}

func (r *SubprocessRunner) Tier2(ctx context.Context, path string) (*snapshot.Snapshot, error) {
	var snap snapshot.Snapshot
	if err := r.run(ctx, path, "2", &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (r *SubprocessRunner) run(ctx context.Context, path, tier string, out any) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate own binary: %w", err)
	}

	args := []string{"extract", "--tier", tier, "--format", "json"}
	args = append(args, r.ExtraArgs...)
	args = append(args, path)
	cmd := exec.CommandContext(ctx, exe, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = r.Grace

	start := time.Now()
	err = cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, ctxErr)
	}
	if err != nil {
		if r.Logger != nil {
			r.Logger.Error("extraction worker failed",
				slog.String("tier", tier),
				slog.Duration("elapsed", time.Since(start)),
				slog.String("stderr", stderr.String()))
		}
		return fmt.Errorf("worker exited without result: %w", err)
	}
	if err := json.Unmarshal(stdout.Bytes(), out); err != nil {
		return fmt.Errorf("decode worker output: %w", err)
	}
	return nil
}
