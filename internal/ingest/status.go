// Package ingest orchestrates when and how extraction runs: stability
// detection after a rewrite, tiered extraction in cancellable isolated
// workers, a single-flight guarantee, and generation-based supersede of
// stale work.
package ingest

import (
	"errors"
	"time"
)

// Stage is the scheduler's state-machine position.
type Stage string

const (
	StageIdle          Stage = "idle"
	StageWaitingStable Stage = "waiting_for_stable_save"
	StageParsingTier0  Stage = "parsing_tier0"
	StageParsingTier1  Stage = "parsing_tier1"
	StageTier2         Stage = "precomputing_tier2"
	StagePersisting    Stage = "persisting"
	StageReady         Stage = "ready"
	StageError         Stage = "error"
)

var (
	// ErrCancelled marks a worker killed by cancellation; it is distinct
	// from a successful empty result.
	ErrCancelled = errors.New("extraction cancelled")

	// ErrSuperseded marks work invalidated by a newer notification.
	ErrSuperseded = errors.New("superseded by newer notification")

	// ErrNotStable means the source file never stabilized within the
	// maximum wait.
	ErrNotStable = errors.New("source file did not stabilize")

	// ErrNotReady means no snapshot has been produced yet.
	ErrNotReady = errors.New("no snapshot ready yet")
)

// Status is the scheduler's externally visible state. It is copied out under
// lock; readers never see partial updates.
type Status struct {
	Stage       Stage                    `json:"stage"`
	Path        string                   `json:"path,omitempty"`
	Generation  int64                    `json:"generation"`
	LastError   string                   `json:"last_error,omitempty"`
	UpdatedAt   time.Time                `json:"updated_at"`
	CancelCount int                      `json:"cancel_count"`
	TierTimings map[string]time.Duration `json:"tier_timings,omitempty"`
	SessionID   string                   `json:"session_id,omitempty"`
	EmpireName  string                   `json:"empire_name,omitempty"`
	GameDate    string                   `json:"game_date,omitempty"`
}
