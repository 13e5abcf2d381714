package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/statewatch/internal/events"
	"git.home.luguber.info/inful/statewatch/internal/ingest"
	"git.home.luguber.info/inful/statewatch/internal/snapshot"
)

type fakeSched struct {
	status    ingest.Status
	snap      *snapshot.Snapshot
	snapID    int64
	refreshed int
}

func (f *fakeSched) Status() ingest.Status { return f.status }

func (f *fakeSched) LatestSnapshot() (*snapshot.Snapshot, int64, error) {
	if f.snap == nil {
		return nil, 0, ingest.ErrNotReady
	}
	return f.snap, f.snapID, nil
}

func (f *fakeSched) RequestImmediateTier2() { f.refreshed++ }

type fakeEvents struct {
	evs []events.Event
}

func (f *fakeEvents) RecentEvents(ctx context.Context, sessionID string, limit int) ([]events.Event, error) {
	if limit < len(f.evs) {
		return f.evs[:limit], nil
	}
	return f.evs, nil
}

func newTestServer(sched Scheduler, source EventSource) *Server {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(":0", sched, source, nil, logger)
}

func TestHandleSnapshotNotReady(t *testing.T) {
	s := newTestServer(&fakeSched{status: ingest.Status{Stage: ingest.StageIdle}}, &fakeEvents{})

	rec := httptest.NewRecorder()
	s.handleSnapshot(rec, httptest.NewRequest(http.MethodGet, "/snapshot", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "no snapshot")
}

func TestHandleSnapshotReady(t *testing.T) {
	sched := &fakeSched{
		status: ingest.Status{Stage: ingest.StageReady},
		snap:   &snapshot.Snapshot{OwnerName: "Test Empire", Date: "2250.03.01"},
		snapID: 7,
	}
	s := newTestServer(sched, &fakeEvents{})

	rec := httptest.NewRecorder()
	s.handleSnapshot(rec, httptest.NewRequest(http.MethodGet, "/snapshot", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		SnapshotID int64             `json:"snapshot_id"`
		Snapshot   snapshot.Snapshot `json:"snapshot"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(7), body.SnapshotID)
	assert.Equal(t, "Test Empire", body.Snapshot.OwnerName)
}

func TestHandleStatus(t *testing.T) {
	sched := &fakeSched{status: ingest.Status{
		Stage:      ingest.StageReady,
		SessionID:  "session-1",
		EmpireName: "Test Empire",
	}}
	s := newTestServer(sched, &fakeEvents{})

	rec := httptest.NewRecorder()
	s.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var st ingest.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, ingest.StageReady, st.Stage)
	assert.Equal(t, "Test Empire", st.EmpireName)
}

func TestHandleEvents(t *testing.T) {
	source := &fakeEvents{evs: []events.Event{
		{Type: "war_started", Summary: "War declared: The Great War"},
		{Type: "colony_count_changed", Summary: "Colonies 3 -> 4"},
	}}
	sched := &fakeSched{status: ingest.Status{SessionID: "session-1"}}
	s := newTestServer(sched, source)

	rec := httptest.NewRecorder()
	s.handleEvents(rec, httptest.NewRequest(http.MethodGet, "/events?limit=1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		SessionID string         `json:"session_id"`
		Events    []events.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "session-1", body.SessionID)
	require.Len(t, body.Events, 1)
	assert.Equal(t, "war_started", body.Events[0].Type)
}

func TestHandleEventsBadLimit(t *testing.T) {
	sched := &fakeSched{status: ingest.Status{SessionID: "session-1"}}
	s := newTestServer(sched, &fakeEvents{})

	rec := httptest.NewRecorder()
	s.handleEvents(rec, httptest.NewRequest(http.MethodGet, "/events?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleEventsNoSession(t *testing.T) {
	s := newTestServer(&fakeSched{}, &fakeEvents{})

	rec := httptest.NewRecorder()
	s.handleEvents(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleSearchRequiresQuery(t *testing.T) {
	s := newTestServer(&fakeSched{}, &fakeEvents{})

	rec := httptest.NewRecorder()
	s.handleSearch(rec, httptest.NewRequest(http.MethodGet, "/search", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRefresh(t *testing.T) {
	sched := &fakeSched{}
	s := newTestServer(sched, &fakeEvents{})

	rec := httptest.NewRecorder()
	s.handleRefresh(rec, httptest.NewRequest(http.MethodPost, "/refresh", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, sched.refreshed)
}

func TestHandleHealth(t *testing.T) {
	sched := &fakeSched{status: ingest.Status{Stage: ingest.StageError, LastError: "tier2: boom"}}
	s := newTestServer(sched, &fakeEvents{})

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "tier2: boom", body["last_error"])
}
