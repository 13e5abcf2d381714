package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestWaitForStableValidContainer(t *testing.T) {
	path := writeContainer(t, t.TempDir(), "autosave.sav")
	cfg := StabilityConfig{
		PollInterval: 5 * time.Millisecond,
		StableWindow: 15 * time.Millisecond,
		MaxWait:      time.Second,
	}

	start := time.Now()
	err := WaitForStable(context.Background(), path, cfg, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), cfg.StableWindow)
}

func TestWaitForStableGrowingFileDelays(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autosave.sav")
	require.NoError(t, os.WriteFile(path, []byte("partial"), 0o644))

	cfg := StabilityConfig{
		PollInterval: 5 * time.Millisecond,
		StableWindow: 20 * time.Millisecond,
		MaxWait:      2 * time.Second,
	}

	// Keep appending for a while, then replace with a valid container.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 6; i++ {
			time.Sleep(10 * time.Millisecond)
			f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return
			}
			_, _ = f.Write([]byte("more"))
			_ = f.Close()
		}
		final := writeContainer(t, dir, "final.sav")
		_ = os.Rename(final, path)
	}()

	err := WaitForStable(context.Background(), path, cfg, nil)
	<-done
	require.NoError(t, err)
}

func TestWaitForStableNeverValid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autosave.sav")
	require.NoError(t, os.WriteFile(path, []byte("not a container"), 0o644))

	cfg := StabilityConfig{
		PollInterval: 5 * time.Millisecond,
		StableWindow: 10 * time.Millisecond,
		MaxWait:      80 * time.Millisecond,
	}
	err := WaitForStable(context.Background(), path, cfg, nil)
	assert.ErrorIs(t, err, ErrNotStable)
}

func TestWaitForStableSuperseded(t *testing.T) {
	path := writeContainer(t, t.TempDir(), "autosave.sav")
	err := WaitForStable(context.Background(), path, StabilityConfig{
		PollInterval: 5 * time.Millisecond,
		StableWindow: time.Hour,
		MaxWait:      time.Hour,
	}, func() bool { return true })
	assert.ErrorIs(t, err, ErrSuperseded)
}

func TestWaitForStableContextCancel(t *testing.T) {
	path := writeContainer(t, t.TempDir(), "autosave.sav")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := WaitForStable(ctx, path, StabilityConfig{
		PollInterval: 5 * time.Millisecond,
		StableWindow: time.Hour,
		MaxWait:      time.Hour,
	}, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
