package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/statewatch/internal/bus"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestWatcherDetectsRewrite(t *testing.T) {
	dir := t.TempDir()
	b := bus.New()
	defer b.Close()
	ch, unsub := bus.Subscribe[bus.StateFileDetected](b, 8)
	defer unsub()

	w, err := New(Config{Dirs: []string{dir}, Suffix: ".sav", Debounce: 30 * time.Millisecond}, b, quietLogger())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	path := filepath.Join(dir, "autosave.sav")
	// A rewrite is a burst of small writes.
	for i := 0; i < 4; i++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		_, err = f.Write([]byte("chunk"))
		require.NoError(t, err)
		require.NoError(t, f.Close())
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case evt := <-ch:
		assert.Equal(t, path, evt.Path)
		assert.False(t, evt.ObservedAt.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("no detection published")
	}

	// The burst must have been coalesced into a single detection.
	select {
	case evt := <-ch:
		t.Fatalf("unexpected second detection: %v", evt)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcherIgnoresOtherSuffixes(t *testing.T) {
	dir := t.TempDir()
	b := bus.New()
	defer b.Close()
	ch, unsub := bus.Subscribe[bus.StateFileDetected](b, 8)
	defer unsub()

	w, err := New(Config{Dirs: []string{dir}, Suffix: ".sav", Debounce: 20 * time.Millisecond}, b, quietLogger())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "partial.sav.tmp"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.sav"), []byte("x"), 0o644))

	select {
	case evt := <-ch:
		t.Fatalf("unexpected detection: %v", evt)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcherRequiresDirs(t *testing.T) {
	_, err := New(Config{}, bus.New(), quietLogger())
	assert.Error(t, err)
}

func TestRescannerFindsNewest(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.sav")
	require.NoError(t, os.WriteFile(old, []byte("old"), 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))
	newest := filepath.Join(dir, "new.sav")
	require.NoError(t, os.WriteFile(newest, []byte("new"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.txt"), []byte("x"), 0o644))

	r, err := NewRescanner(Config{Dirs: []string{dir}, Suffix: ".sav"}, 0, nil, quietLogger())
	require.NoError(t, err)

	path, _, ok := r.newest()
	require.True(t, ok)
	assert.Equal(t, newest, path)
}

func TestRescannerSweepPublishesOncePerMod(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "autosave.sav"), []byte("x"), 0o644))

	b := bus.New()
	defer b.Close()
	ch, unsub := bus.Subscribe[bus.StateFileDetected](b, 8)
	defer unsub()

	r, err := NewRescanner(Config{Dirs: []string{dir}, Suffix: ".sav"}, 0, b, quietLogger())
	require.NoError(t, err)

	r.sweep(context.Background())
	select {
	case evt := <-ch:
		assert.Contains(t, evt.Path, "autosave.sav")
	case <-time.After(time.Second):
		t.Fatal("sweep published nothing")
	}

	// Unchanged mtime: no repeat announcement.
	r.sweep(context.Background())
	select {
	case evt := <-ch:
		t.Fatalf("unexpected repeat detection: %v", evt)
	case <-time.After(100 * time.Millisecond):
	}
}
