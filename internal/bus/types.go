package bus

import (
	"time"

	"git.home.luguber.info/inful/statewatch/internal/events"
	"git.home.luguber.info/inful/statewatch/internal/snapshot"
)

// StateFileDetected fires when the watcher sees a new or rewritten state
// file. The scheduler treats it as a notification, never as proof the file
// is complete.
type StateFileDetected struct {
	Path       string
	ObservedAt time.Time
}

// SnapshotReady fires after a successful full extraction has been persisted.
type SnapshotReady struct {
	SessionID  string
	SnapshotID int64
	Snapshot   *snapshot.Snapshot
}

// EventsDetected carries the diff against the previous stored snapshot.
type EventsDetected struct {
	SessionID string
	Events    []events.Event
}

// IngestFailed reports a failed or cancelled extraction cycle.
type IngestFailed struct {
	Path string
	Err  error
}
