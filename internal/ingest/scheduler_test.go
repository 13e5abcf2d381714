package ingest

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/statewatch/internal/events"
	"git.home.luguber.info/inful/statewatch/internal/extract"
	"git.home.luguber.info/inful/statewatch/internal/snapshot"
)

func writeContainer(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)

	w, err := zw.Create("meta")
	require.NoError(t, err)
	_, err = w.Write([]byte("name=\"Test Empire\"\ndate=\"2250.03.01\"\nversion=\"v3.14\"\n"))
	require.NoError(t, err)

	w, err = zw.Create("gamestate")
	require.NoError(t, err)
	_, err = w.Write([]byte("date=\"2250.03.01\"\nplayer={\n\t{\n\t\tcountry=0\n\t}\n}\n"))
	require.NoError(t, err)

	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

type fakeRunner struct {
	mu        sync.Mutex
	inFlight  int
	maxFlight int
	tier1Runs int
	tier2Runs int
	tier2Fn   func(ctx context.Context, call int) (*snapshot.Snapshot, error)
}

func (r *fakeRunner) enter() {
	r.mu.Lock()
	r.inFlight++
	if r.inFlight > r.maxFlight {
		r.maxFlight = r.inFlight
	}
	r.mu.Unlock()
}

func (r *fakeRunner) exit() {
	r.mu.Lock()
	r.inFlight--
	r.mu.Unlock()
}

func (r *fakeRunner) Tier1(ctx context.Context, path string) (extract.Status, error) {
	r.enter()
	defer r.exit()
	r.mu.Lock()
	r.tier1Runs++
	r.mu.Unlock()
	return extract.Status{EmpireName: "Test Empire", Date: "2250.03.01"}, nil
}

func (r *fakeRunner) Tier2(ctx context.Context, path string) (*snapshot.Snapshot, error) {
	r.enter()
	defer r.exit()
	r.mu.Lock()
	r.tier2Runs++
	call := r.tier2Runs
	fn := r.tier2Fn
	r.mu.Unlock()
	if fn != nil {
		return fn(ctx, call)
	}
	return &snapshot.Snapshot{OwnerID: 0, OwnerName: "Test Empire", Date: fmt.Sprintf("2250.03.%02d", call)}, nil
}

type fakeStore struct {
	mu        sync.Mutex
	byPrint   map[string]int64
	snaps     []*snapshot.Snapshot
	events    []events.Event
	retention int
	lastDate  string
	dedupes   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{byPrint: map[string]int64{}}
}

func (f *fakeStore) EnsureSession(ctx context.Context, saveName string) (string, error) {
	return "session-" + saveName, nil
}

func (f *fakeStore) TouchSession(ctx context.Context, sessionID, gameDate string) error {
	f.mu.Lock()
	f.lastDate = gameDate
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) InsertIfNew(ctx context.Context, sessionID string, snap *snapshot.Snapshot, fingerprint string) (bool, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.byPrint[fingerprint]; ok {
		f.dedupes++
		return false, id, nil
	}
	f.snaps = append(f.snaps, snap)
	id := int64(len(f.snaps))
	f.byPrint[fingerprint] = id
	return true, id, nil
}

func (f *fakeStore) LatestForSession(ctx context.Context, sessionID string) (*snapshot.Snapshot, int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.snaps) == 0 {
		return nil, 0, false, nil
	}
	return f.snaps[len(f.snaps)-1], int64(len(f.snaps)), true, nil
}

func (f *fakeStore) Previous(ctx context.Context, sessionID string, beforeID int64) (*snapshot.Snapshot, int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if beforeID <= 1 || int(beforeID) > len(f.snaps)+1 {
		return nil, 0, false, nil
	}
	return f.snaps[beforeID-2], beforeID - 1, true, nil
}

func (f *fakeStore) AppendEvents(ctx context.Context, sessionID string, evs []events.Event) error {
	f.mu.Lock()
	f.events = append(f.events, evs...)
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) ApplyRetention(ctx context.Context, sessionID string, keepRecent int) error {
	f.mu.Lock()
	f.retention = keepRecent
	f.mu.Unlock()
	return nil
}

func fastConfig() Config {
	return Config{
		Stability: StabilityConfig{
			PollInterval: 5 * time.Millisecond,
			StableWindow: 10 * time.Millisecond,
			MaxWait:      2 * time.Second,
		},
		Tier2IdleDelay: 0,
		WorkerTimeout:  5 * time.Second,
		RetentionKeep:  10,
	}
}

func startScheduler(t *testing.T, cfg Config, st SnapshotStore, r Runner) *Scheduler {
	t.Helper()
	s := New(cfg, st, events.New(events.Thresholds{}), nil, nil, r, testLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		_ = s.Stop(stopCtx)
		cancel()
	})
	return s
}

func TestSchedulerProducesSnapshot(t *testing.T) {
	path := writeContainer(t, t.TempDir(), "autosave.sav")
	store := newFakeStore()
	runner := &fakeRunner{}
	s := startScheduler(t, fastConfig(), store, runner)

	s.NotifyNewState(path, time.Now())

	require.Eventually(t, func() bool {
		_, _, err := s.LatestSnapshot()
		return err == nil
	}, 3*time.Second, 10*time.Millisecond)

	snap, id, err := s.LatestSnapshot()
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.Equal(t, "Test Empire", snap.OwnerName)

	st := s.Status()
	assert.Equal(t, StageReady, st.Stage)
	assert.Equal(t, "Test Empire", st.EmpireName)
	assert.Empty(t, st.LastError)
	assert.Contains(t, st.TierTimings, "tier1")
	assert.Contains(t, st.TierTimings, "tier2")

	t1, ok := s.Tier1Status()
	require.True(t, ok)
	assert.Equal(t, "2250.03.01", t1.Date)
}

func TestSchedulerSingleFlightUnderBurst(t *testing.T) {
	dir := t.TempDir()
	path := writeContainer(t, dir, "autosave.sav")
	store := newFakeStore()
	runner := &fakeRunner{}
	s := startScheduler(t, fastConfig(), store, runner)

	for i := 0; i < 8; i++ {
		s.NotifyNewState(path, time.Now())
		time.Sleep(2 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		_, _, err := s.LatestSnapshot()
		return err == nil
	}, 3*time.Second, 10*time.Millisecond)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, 1, runner.maxFlight, "workers must never overlap")
	assert.Less(t, runner.tier1Runs, 8, "burst should coalesce to fewer cycles")
}

func TestSchedulerFailedTier2KeepsReadySnapshot(t *testing.T) {
	path := writeContainer(t, t.TempDir(), "autosave.sav")
	store := newFakeStore()
	runner := &fakeRunner{
		tier2Fn: func(ctx context.Context, call int) (*snapshot.Snapshot, error) {
			if call > 1 {
				return nil, errors.New("worker exited without result")
			}
			return &snapshot.Snapshot{OwnerName: "Test Empire", Date: "2250.03.01"}, nil
		},
	}
	s := startScheduler(t, fastConfig(), store, runner)

	s.NotifyNewState(path, time.Now())
	require.Eventually(t, func() bool {
		_, _, err := s.LatestSnapshot()
		return err == nil
	}, 3*time.Second, 10*time.Millisecond)
	first, firstID, err := s.LatestSnapshot()
	require.NoError(t, err)

	s.NotifyNewState(path, time.Now())
	require.Eventually(t, func() bool {
		return s.Status().Stage == StageError
	}, 3*time.Second, 10*time.Millisecond)

	snap, id, err := s.LatestSnapshot()
	require.NoError(t, err, "failed extraction must not clear the ready snapshot")
	assert.Equal(t, firstID, id)
	assert.Equal(t, first.Date, snap.Date)
	assert.Contains(t, s.Status().LastError, "tier2")
}

func TestSchedulerSupersedeCancelsTier2(t *testing.T) {
	path := writeContainer(t, t.TempDir(), "autosave.sav")
	store := newFakeStore()
	started := make(chan struct{}, 4)
	runner := &fakeRunner{
		tier2Fn: func(ctx context.Context, call int) (*snapshot.Snapshot, error) {
			if call == 1 {
				started <- struct{}{}
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return &snapshot.Snapshot{OwnerName: "Test Empire", Date: "2250.04.01"}, nil
		},
	}
	s := startScheduler(t, fastConfig(), store, runner)

	s.NotifyNewState(path, time.Now())
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("tier2 never started")
	}

	// A newer save arrives while tier2 is running.
	s.NotifyNewState(path, time.Now())

	require.Eventually(t, func() bool {
		_, _, err := s.LatestSnapshot()
		return err == nil
	}, 3*time.Second, 10*time.Millisecond)

	snap, _, err := s.LatestSnapshot()
	require.NoError(t, err)
	assert.Equal(t, "2250.04.01", snap.Date)
	assert.GreaterOrEqual(t, s.Status().CancelCount, 1)
}

func TestSchedulerDeduplicatesIdenticalSnapshots(t *testing.T) {
	path := writeContainer(t, t.TempDir(), "autosave.sav")
	store := newFakeStore()
	runner := &fakeRunner{
		tier2Fn: func(ctx context.Context, call int) (*snapshot.Snapshot, error) {
			return &snapshot.Snapshot{OwnerName: "Test Empire", Date: "2250.03.01"}, nil
		},
	}
	s := startScheduler(t, fastConfig(), store, runner)

	for i := 0; i < 2; i++ {
		s.NotifyNewState(path, time.Now())
		require.Eventually(t, func() bool {
			runner.mu.Lock()
			defer runner.mu.Unlock()
			return runner.tier2Runs > i
		}, 3*time.Second, 10*time.Millisecond)
		require.Eventually(t, func() bool {
			return s.Status().Stage == StageReady
		}, 3*time.Second, 10*time.Millisecond)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.snaps, 1, "identical snapshots must be stored once")
	assert.Equal(t, 1, store.dedupes)
	assert.Empty(t, store.events, "a deduped snapshot must not re-emit events")
}

func TestSchedulerTier2IdleDeferral(t *testing.T) {
	path := writeContainer(t, t.TempDir(), "autosave.sav")
	store := newFakeStore()
	runner := &fakeRunner{}
	cfg := fastConfig()
	cfg.Tier2IdleDelay = time.Hour
	s := startScheduler(t, cfg, store, runner)

	s.NotifyNewState(path, time.Now())
	require.Eventually(t, func() bool {
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return runner.tier1Runs == 1
	}, 3*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	runner.mu.Lock()
	t2 := runner.tier2Runs
	runner.mu.Unlock()
	assert.Zero(t, t2, "tier2 must wait out the idle delay")
	_, _, err := s.LatestSnapshot()
	assert.ErrorIs(t, err, ErrNotReady)

	s.RequestImmediateTier2()
	require.Eventually(t, func() bool {
		_, _, err := s.LatestSnapshot()
		return err == nil
	}, 3*time.Second, 10*time.Millisecond)
}
