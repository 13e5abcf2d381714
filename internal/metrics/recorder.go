// Package metrics defines the observability hooks for the ingestion
// pipeline. Components take a Recorder by injection; the default
// NoopRecorder makes metrics strictly optional.
package metrics

import "time"

// ResultLabel enumerates tier outcome categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultFailed   ResultLabel = "failed"
	ResultCanceled ResultLabel = "canceled"
)

// Recorder defines the hooks the scheduler and store call.
type Recorder interface {
	ObserveTierDuration(tier string, d time.Duration)
	IncTierResult(tier string, result ResultLabel)
	IncNotification()
	IncCancellation()
	IncSnapshotDeduped()
	SetStage(stage string)
	ObserveStabilityWait(d time.Duration)
}

// NoopRecorder is the default Recorder; every method is a no-op.
type NoopRecorder struct{}

func (NoopRecorder) ObserveTierDuration(string, time.Duration) {}
func (NoopRecorder) IncTierResult(string, ResultLabel)         {}
func (NoopRecorder) IncNotification()                          {}
func (NoopRecorder) IncCancellation()                          {}
func (NoopRecorder) IncSnapshotDeduped()                       {}
func (NoopRecorder) SetStage(string)                           {}
func (NoopRecorder) ObserveStabilityWait(time.Duration)        {}
