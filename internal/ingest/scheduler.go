package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/statewatch/internal/bus"
	"git.home.luguber.info/inful/statewatch/internal/container"
	"git.home.luguber.info/inful/statewatch/internal/events"
	"git.home.luguber.info/inful/statewatch/internal/extract"
	"git.home.luguber.info/inful/statewatch/internal/metrics"
	"git.home.luguber.info/inful/statewatch/internal/snapshot"
)

// SnapshotStore is the persistence collaborator the scheduler depends on.
type SnapshotStore interface {
	EnsureSession(ctx context.Context, saveName string) (string, error)
	TouchSession(ctx context.Context, sessionID, gameDate string) error
	InsertIfNew(ctx context.Context, sessionID string, snap *snapshot.Snapshot, fingerprint string) (bool, int64, error)
	LatestForSession(ctx context.Context, sessionID string) (*snapshot.Snapshot, int64, bool, error)
	Previous(ctx context.Context, sessionID string, beforeID int64) (*snapshot.Snapshot, int64, bool, error)
	AppendEvents(ctx context.Context, sessionID string, evs []events.Event) error
	ApplyRetention(ctx context.Context, sessionID string, keepRecent int) error
}

// Config tunes the scheduler.
type Config struct {
	Stability StabilityConfig `yaml:"stability"`

	// Tier2IdleDelay defers the expensive full extraction until this long
	// after the last notification. Zero runs tier2 immediately after tier1.
	Tier2IdleDelay time.Duration `yaml:"tier2_idle_delay"`

	// WorkerTimeout bounds a single tier run.
	WorkerTimeout time.Duration `yaml:"worker_timeout"`

	// RetentionKeep is how many recent full payloads each session keeps.
	RetentionKeep int `yaml:"retention_keep"`
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		Stability:      DefaultStability(),
		Tier2IdleDelay: 12 * time.Second,
		WorkerTimeout:  10 * time.Minute,
		RetentionKeep:  20,
	}
}

type notification struct {
	path       string
	observedAt time.Time
	generation int64
}

// Scheduler owns the ingestion state machine. All mutation of the current
// snapshot and status happens on its single control-loop goroutine; readers
// get copies under lock.
type Scheduler struct {
	cfg      Config
	store    SnapshotStore
	detector *events.Detector
	runner   Runner
	eventBus *bus.Bus
	rec      metrics.Recorder
	logger   *slog.Logger

	mu        sync.RWMutex
	status    Status
	readySnap *snapshot.Snapshot
	readyID   int64
	sessionID string
	tier1     *extract.Status

	pendingMu sync.Mutex
	pending   *notification
	lastEvent time.Time
	tier2Path string
	forceT2   bool

	generation atomic.Int64
	wake       chan struct{}
	t2wake     chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// New assembles a scheduler. Nil recorder and logger fall back to noop and
// the default logger; runner defaults to the subprocess runner.
func New(cfg Config, store SnapshotStore, detector *events.Detector, eventBus *bus.Bus, rec metrics.Recorder, runner Runner, logger *slog.Logger) *Scheduler {
	if cfg.WorkerTimeout <= 0 {
		cfg.WorkerTimeout = DefaultConfig().WorkerTimeout
	}
	if cfg.RetentionKeep <= 0 {
		cfg.RetentionKeep = DefaultConfig().RetentionKeep
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = NewSubprocessRunner(logger)
	}
	return &Scheduler{
		cfg:      cfg,
		store:    store,
		detector: detector,
		runner:   runner,
		eventBus: eventBus,
		rec:      rec,
		logger:   logger,
		status:   Status{Stage: StageIdle, UpdatedAt: time.Now(), TierTimings: map[string]time.Duration{}},
		wake:     make(chan struct{}, 1),
		t2wake:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start launches the control loop.
func (s *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(runCtx)
}

// Stop cancels the control loop and waits for it, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// NotifyNewState invalidates any in-flight work and restarts the pipeline
// for path. The newest notification always wins; there is no queue.
func (s *Scheduler) NotifyNewState(path string, observedAt time.Time) {
	s.rec.IncNotification()
	gen := s.generation.Add(1)

	s.pendingMu.Lock()
	s.pending = &notification{path: path, observedAt: observedAt, generation: gen}
	s.lastEvent = time.Now()
	s.pendingMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// RequestImmediateTier2 skips the idle-delay deferral for the pending full
// extraction.
func (s *Scheduler) RequestImmediateTier2() {
	s.pendingMu.Lock()
	s.forceT2 = true
	s.pendingMu.Unlock()
	select {
	case s.t2wake <- struct{}{}:
	default:
	}
}

// Status returns a copy of the current scheduler status.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	st.TierTimings = make(map[string]time.Duration, len(s.status.TierTimings))
	for k, v := range s.status.TierTimings {
		st.TierTimings[k] = v
	}
	return st
}

// LatestSnapshot returns the last fully extracted snapshot, or ErrNotReady.
func (s *Scheduler) LatestSnapshot() (*snapshot.Snapshot, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.readySnap == nil {
		return nil, 0, ErrNotReady
	}
	return s.readySnap, s.readyID, nil
}

// Tier1Status returns the last lightweight status record.
func (s *Scheduler) Tier1Status() (extract.Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tier1 == nil {
		return extract.Status{}, false
	}
	return *s.tier1, true
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			for {
				n := s.takePending()
				if n == nil {
					break
				}
				s.runCycle(ctx, n)
			}
			s.maybeTier2(ctx)
		case <-s.t2wake:
			s.maybeTier2(ctx)
		case <-ticker.C:
			s.maybeTier2(ctx)
		}
	}
}

func (s *Scheduler) takePending() *notification {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	n := s.pending
	s.pending = nil
	return n
}

func (s *Scheduler) hasPending() bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return s.pending != nil
}

// runCycle drives one notification through stability, tier0 and tier1, and
// leaves tier2 queued behind the idle-delay gate.
func (s *Scheduler) runCycle(ctx context.Context, n *notification) {
	s.setStage(StageWaitingStable, func(st *Status) {
		st.Path = n.path
		st.Generation = n.generation
		st.LastError = ""
	})

	stabStart := time.Now()
	err := WaitForStable(ctx, n.path, s.cfg.Stability, s.hasPending)
	s.rec.ObserveStabilityWait(time.Since(stabStart))
	switch {
	case errors.Is(err, ErrSuperseded):
		return
	case err != nil:
		s.fail("stability", err)
		return
	}

	// Tier0: the meta record is tiny, no worker needed.
	s.setStage(StageParsingTier0, nil)
	t0Start := time.Now()
	meta, err := readMeta(n.path)
	if err != nil {
		s.fail("tier0", err)
		return
	}
	sessionName := meta.Name
	if sessionName == "" {
		sessionName = filepath.Base(n.path)
	}
	sessionID, err := s.store.EnsureSession(ctx, sessionName)
	if err != nil {
		s.fail("tier0", err)
		return
	}
	s.mu.Lock()
	s.sessionID = sessionID
	s.status.SessionID = sessionID
	s.status.EmpireName = meta.Name
	s.status.GameDate = meta.Date
	s.status.TierTimings["tier0"] = time.Since(t0Start)
	s.mu.Unlock()
	s.rec.ObserveTierDuration("tier0", time.Since(t0Start))

	// Tier1 runs in the isolated worker.
	s.setStage(StageParsingTier1, nil)
	t1Start := time.Now()
	st, err := await(ctx, s.cfg.WorkerTimeout, s.hasPending, func(runCtx context.Context) (extract.Status, error) {
		return s.runner.Tier1(runCtx, n.path)
	})
	s.rec.ObserveTierDuration("tier1", time.Since(t1Start))
	switch {
	case errors.Is(err, ErrSuperseded):
		s.noteCancelled("tier1")
		return
	case err != nil:
		s.rec.IncTierResult("tier1", metrics.ResultFailed)
		s.fail("tier1", err)
		return
	}
	s.rec.IncTierResult("tier1", metrics.ResultSuccess)

	s.mu.Lock()
	s.tier1 = &st
	if st.EmpireName != "" {
		s.status.EmpireName = st.EmpireName
	}
	if st.Date != "" {
		s.status.GameDate = st.Date
	}
	s.status.TierTimings["tier1"] = time.Since(t1Start)
	ready := s.readySnap != nil
	s.mu.Unlock()

	// The expensive pass waits for the notification storm to settle.
	s.pendingMu.Lock()
	s.tier2Path = n.path
	s.pendingMu.Unlock()

	if ready {
		s.setStage(StageReady, nil)
	} else {
		s.setStage(StageIdle, nil)
	}
}

// takeTier2 returns the queued tier2 path when the idle gate is open.
func (s *Scheduler) takeTier2() (string, bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if s.tier2Path == "" || s.pending != nil {
		s.forceT2 = false
		return "", false
	}
	if !s.forceT2 && s.cfg.Tier2IdleDelay > 0 && time.Since(s.lastEvent) < s.cfg.Tier2IdleDelay {
		return "", false
	}
	path := s.tier2Path
	s.tier2Path = ""
	s.forceT2 = false
	return path, true
}

func (s *Scheduler) maybeTier2(ctx context.Context) {
	path, ok := s.takeTier2()
	if !ok {
		return
	}

	s.setStage(StageTier2, nil)
	t2Start := time.Now()
	snap, err := await(ctx, s.cfg.WorkerTimeout, s.hasPending, func(runCtx context.Context) (*snapshot.Snapshot, error) {
		return s.runner.Tier2(runCtx, path)
	})
	s.rec.ObserveTierDuration("tier2", time.Since(t2Start))
	switch {
	case errors.Is(err, ErrSuperseded):
		s.noteCancelled("tier2")
		return
	case err != nil:
		// The previously-ready snapshot stays queryable.
		s.rec.IncTierResult("tier2", metrics.ResultFailed)
		s.fail("tier2", err)
		s.publish(ctx, bus.IngestFailed{Path: path, Err: err})
		return
	}
	s.rec.IncTierResult("tier2", metrics.ResultSuccess)

	s.setStage(StagePersisting, nil)
	if err := s.persist(ctx, snap, t2Start); err != nil {
		s.fail("persisting", err)
		s.publish(ctx, bus.IngestFailed{Path: path, Err: err})
		return
	}
}

func (s *Scheduler) persist(ctx context.Context, snap *snapshot.Snapshot, t2Start time.Time) error {
	s.mu.RLock()
	sessionID := s.sessionID
	s.mu.RUnlock()

	fp := snapshot.Fingerprint(snap)
	inserted, id, err := s.store.InsertIfNew(ctx, sessionID, snap, fp)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	if !inserted {
		s.rec.IncSnapshotDeduped()
		s.logger.Debug("snapshot deduped", slog.Int64("snapshot_id", id))
	} else {
		if prev, prevID, ok, err := s.store.Previous(ctx, sessionID, id); err != nil {
			s.logger.Warn("previous snapshot lookup failed", slog.String("error", err.Error()))
		} else if ok {
			evs := s.detector.Compute(snapshot.Derive(prev), snapshot.Derive(snap), prevID, id)
			if len(evs) > 0 {
				if err := s.store.AppendEvents(ctx, sessionID, evs); err != nil {
					return fmt.Errorf("append events: %w", err)
				}
				s.publish(ctx, bus.EventsDetected{SessionID: sessionID, Events: evs})
			}
		}
		if err := s.store.ApplyRetention(ctx, sessionID, s.cfg.RetentionKeep); err != nil {
			s.logger.Warn("retention failed", slog.String("error", err.Error()))
		}
	}
	if err := s.store.TouchSession(ctx, sessionID, snap.Date); err != nil {
		s.logger.Warn("touch session failed", slog.String("error", err.Error()))
	}

	s.mu.Lock()
	s.readySnap = snap
	s.readyID = id
	s.status.TierTimings["tier2"] = time.Since(t2Start)
	s.mu.Unlock()

	s.setStage(StageReady, nil)
	s.publish(ctx, bus.SnapshotReady{SessionID: sessionID, SnapshotID: id, Snapshot: snap})
	s.logger.Info("snapshot ready",
		slog.Int64("snapshot_id", id),
		slog.String("game_date", snap.Date),
		slog.Bool("inserted", inserted))
	return nil
}

func (s *Scheduler) publish(ctx context.Context, evt any) {
	if s.eventBus == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := s.eventBus.Publish(pubCtx, evt); err != nil && !errors.Is(err, bus.ErrClosed) {
		s.logger.Warn("bus publish failed", slog.String("error", err.Error()))
	}
}

func (s *Scheduler) setStage(stage Stage, mutate func(*Status)) {
	s.mu.Lock()
	s.status.Stage = stage
	s.status.UpdatedAt = time.Now()
	if mutate != nil {
		mutate(&s.status)
	}
	s.mu.Unlock()
	s.rec.SetStage(string(stage))
}

func (s *Scheduler) fail(phase string, err error) {
	s.logger.Error("ingestion failed",
		slog.String("phase", phase),
		slog.String("error", err.Error()))
	s.setStage(StageError, func(st *Status) {
		st.LastError = fmt.Sprintf("%s: %v", phase, err)
	})
}

func (s *Scheduler) noteCancelled(tier string) {
	s.rec.IncCancellation()
	s.rec.IncTierResult(tier, metrics.ResultCanceled)
	s.mu.Lock()
	s.status.CancelCount++
	s.mu.Unlock()
}

func readMeta(path string) (container.Meta, error) {
	c, err := container.Open(path)
	if err != nil {
		return container.Meta{}, err
	}
	defer c.Close()
	return c.ReadMeta()
}

type workerResult[T any] struct {
	val T
	err error
}

// await runs one tier in the background and supervises it: a newer
// notification cancels the worker and reports ErrSuperseded; the worker's
// late result is discarded. Cancellation is two-phase for the subprocess
// runner: context cancel first, forced kill after its grace period.
func await[T any](ctx context.Context, timeout time.Duration, superseded func() bool, fn func(context.Context) (T, error)) (T, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan workerResult[T], 1)
	go func() {
		v, err := fn(runCtx)
		ch <- workerResult[T]{val: v, err: err}
	}()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	var zero T
	for {
		select {
		case r := <-ch:
			return r.val, r.err
		case <-ticker.C:
			if superseded != nil && superseded() {
				cancel()
				<-ch
				return zero, ErrSuperseded
			}
		case <-ctx.Done():
			cancel()
			<-ch
			return zero, ctx.Err()
		}
	}
}
