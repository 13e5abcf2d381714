// Package store persists snapshots and detected events in SQLite, grouped
// into sessions (one session per save series). Full snapshot payloads are
// subject to a retention policy; headline metrics survive forever.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/statewatch/internal/events"
	"git.home.luguber.info/inful/statewatch/internal/snapshot"
)

// Store is the SQLite-backed snapshot store.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at path and runs migrations.
// Use ":memory:" for tests.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// migrations are applied in order; schema_version records how far we got.
var migrations = []string{
	`
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		save_name TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL,
		last_game_date TEXT
	);
	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		game_date TEXT,
		created_at INTEGER NOT NULL,
		payload BLOB,
		metrics TEXT,
		UNIQUE(session_id, fingerprint)
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_session ON snapshots(session_id, id);
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		from_snapshot_id INTEGER NOT NULL,
		to_snapshot_id INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		summary TEXT NOT NULL,
		payload TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, id);
	`,
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}
	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return err
		}
	case err != nil:
		return err
	}
	for i := version; i < len(migrations); i++ {
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := s.db.Exec(`UPDATE schema_version SET version = ?`, i+1); err != nil {
			return err
		}
	}
	return nil
}

// EnsureSession returns the session id for a save series, creating the
// session row on first sight.
func (s *Store) EnsureSession(ctx context.Context, saveName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM sessions WHERE save_name = ?`, saveName).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("query session: %w", err)
	}
	id = uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, save_name, created_at) VALUES (?, ?, ?)`,
		id, saveName, time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

// TouchSession records the latest simulated date seen for a session.
func (s *Store) TouchSession(ctx context.Context, sessionID, gameDate string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_game_date = ? WHERE id = ?`, gameDate, sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// snapshotMetrics is the small always-kept projection of a snapshot row.
type snapshotMetrics struct {
	OwnerName   string   `json:"owner_name"`
	Date        string   `json:"date"`
	Power       *float64 `json:"military_power,omitempty"`
	ColonyCount *int64   `json:"colony_count,omitempty"`
	FleetCount  *int64   `json:"fleet_count,omitempty"`
	TechCount   *int64   `json:"tech_count,omitempty"`
}

// InsertIfNew inserts the snapshot unless its fingerprint already exists in
// the session. When deduped, the existing row id is returned with
// inserted=false.
func (s *Store) InsertIfNew(ctx context.Context, sessionID string, snap *snapshot.Snapshot, fingerprint string) (bool, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(snap)
	if err != nil {
		return false, 0, fmt.Errorf("marshal snapshot: %w", err)
	}
	metrics, err := json.Marshal(snapshotMetrics{
		OwnerName:   snap.OwnerName,
		Date:        snap.Date,
		Power:       snap.Military.Power,
		ColonyCount: snap.Territory.ColonyCount,
		FleetCount:  snap.Military.FleetCount,
		TechCount:   snap.Technology.Count,
	})
	if err != nil {
		return false, 0, fmt.Errorf("marshal metrics: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO snapshots (session_id, fingerprint, game_date, created_at, payload, metrics)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, fingerprint, snap.Date, time.Now().Unix(), payload, string(metrics))
	if err != nil {
		return false, 0, fmt.Errorf("insert snapshot: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return false, 0, fmt.Errorf("last insert id: %w", err)
		}
		return true, id, nil
	}

	var id int64
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM snapshots WHERE session_id = ? AND fingerprint = ?`,
		sessionID, fingerprint).Scan(&id)
	if err != nil {
		return false, 0, fmt.Errorf("query deduped snapshot: %w", err)
	}
	return false, id, nil
}

// LatestForSession returns the newest snapshot of a session, or ok=false
// when the session has none (or its payload fell to retention).
func (s *Store) LatestForSession(ctx context.Context, sessionID string) (*snapshot.Snapshot, int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryOne(ctx,
		`SELECT id, payload FROM snapshots WHERE session_id = ? ORDER BY id DESC LIMIT 1`,
		sessionID)
}

// Previous returns the newest snapshot older than beforeID in the same
// session.
func (s *Store) Previous(ctx context.Context, sessionID string, beforeID int64) (*snapshot.Snapshot, int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryOne(ctx,
		`SELECT id, payload FROM snapshots WHERE session_id = ? AND id < ? ORDER BY id DESC LIMIT 1`,
		sessionID, beforeID)
}

func (s *Store) queryOne(ctx context.Context, query string, args ...any) (*snapshot.Snapshot, int64, bool, error) {
	var id int64
	var payload []byte
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&id, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("query snapshot: %w", err)
	}
	if len(payload) == 0 {
		return nil, id, false, nil
	}
	var snap snapshot.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, 0, false, fmt.Errorf("unmarshal snapshot %d: %w", id, err)
	}
	return &snap, id, true, nil
}

// AppendEvents stores a batch of detected events.
func (s *Store) AppendEvents(ctx context.Context, sessionID string, evs []events.Event) error {
	if len(evs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	for _, e := range evs {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO events (session_id, from_snapshot_id, to_snapshot_id, event_type, summary, payload, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sessionID, e.FromSnapshotID, e.ToSnapshotID, e.Type, e.Summary, string(payload), now)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	return tx.Commit()
}

// RecentEvents returns the newest events first, bounded by limit.
func (s *Store) RecentEvents(ctx context.Context, sessionID string, limit int) ([]events.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT from_snapshot_id, to_snapshot_id, event_type, summary, payload
		 FROM events WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var e events.Event
		var payload sql.NullString
		if err := rows.Scan(&e.FromSnapshotID, &e.ToSnapshotID, &e.Type, &e.Summary, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if payload.Valid && payload.String != "" && payload.String != "null" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal event payload: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ApplyRetention drops the full payload of every snapshot in the session
// except the very first and the keepRecent newest ones. Metrics stay.
func (s *Store) ApplyRetention(ctx context.Context, sessionID string, keepRecent int) error {
	if keepRecent < 1 {
		keepRecent = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE snapshots SET payload = NULL
		WHERE session_id = ?
		  AND payload IS NOT NULL
		  AND id != (SELECT MIN(id) FROM snapshots WHERE session_id = ?)
		  AND id NOT IN (
			SELECT id FROM snapshots WHERE session_id = ? ORDER BY id DESC LIMIT ?
		  )`,
		sessionID, sessionID, sessionID, keepRecent)
	if err != nil {
		return fmt.Errorf("apply retention: %w", err)
	}
	return nil
}
