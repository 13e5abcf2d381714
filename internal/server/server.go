// Package server exposes the read-only HTTP API: health, scheduler status,
// the latest snapshot, recent events, free-text search, and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"git.home.luguber.info/inful/statewatch/internal/container"
	"git.home.luguber.info/inful/statewatch/internal/events"
	"git.home.luguber.info/inful/statewatch/internal/extract"
	"git.home.luguber.info/inful/statewatch/internal/ingest"
	"git.home.luguber.info/inful/statewatch/internal/snapshot"
	"git.home.luguber.info/inful/statewatch/internal/version"
)

// Scheduler is the slice of the ingestion scheduler the API reads from.
type Scheduler interface {
	Status() ingest.Status
	LatestSnapshot() (*snapshot.Snapshot, int64, error)
	RequestImmediateTier2()
}

// EventSource lists persisted events for a session.
type EventSource interface {
	RecentEvents(ctx context.Context, sessionID string, limit int) ([]events.Event, error)
}

// Server is the HTTP API front end.
type Server struct {
	addr    string
	sched   Scheduler
	source  EventSource
	metrics http.Handler
	logger  *slog.Logger

	httpServer *http.Server
}

// New assembles the API server. metrics may be nil to omit the endpoint.
func New(addr string, sched Scheduler, source EventSource, metrics http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{addr: addr, sched: sched, source: source, metrics: metrics, logger: logger}
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /search", s.handleSearch)
	mux.HandleFunc("POST /refresh", s.handleRefresh)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("http api listening", slog.String("addr", s.addr))
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.sched.Status()
	payload := map[string]any{
		"status":  "ok",
		"version": version.Version,
		"stage":   st.Stage,
	}
	if st.LastError != "" {
		payload["last_error"] = st.LastError
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sched.Status())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, id, err := s.sched.LatestSnapshot()
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "no snapshot ready yet")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"snapshot_id": id,
		"snapshot":    snap,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	st := s.sched.Status()
	if st.SessionID == "" {
		s.writeError(w, http.StatusServiceUnavailable, "no session established yet")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	evs, err := s.source.RecentEvents(r.Context(), st.SessionID, limit)
	if err != nil {
		s.logger.Error("list events failed", slog.String("error", err.Error()))
		s.writeError(w, http.StatusInternalServerError, "event lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id": st.SessionID,
		"events":     evs,
	})
}

// handleSearch re-opens the last ingested container and scans it. The blob is
// not kept in memory between requests.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}

	st := s.sched.Status()
	if st.Path == "" {
		s.writeError(w, http.StatusServiceUnavailable, "no state file ingested yet")
		return
	}

	result, err := searchContainer(st.Path, query, s.logger)
	if err != nil {
		if errors.Is(err, extract.ErrEmptyQuery) {
			s.writeError(w, http.StatusBadRequest, "query contains no searchable characters")
			return
		}
		s.logger.Error("search failed", slog.String("error", err.Error()))
		s.writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.sched.RequestImmediateTier2()
	s.writeJSON(w, http.StatusAccepted, map[string]any{"status": "refresh requested"})
}

func searchContainer(path, query string, logger *slog.Logger) (extract.SearchResult, error) {
	c, err := container.Open(path)
	if err != nil {
		return extract.SearchResult{}, fmt.Errorf("open container: %w", err)
	}
	defer c.Close()
	blob, err := c.ReadState()
	if err != nil {
		return extract.SearchResult{}, fmt.Errorf("read state blob: %w", err)
	}
	return extract.New(blob, logger).Search(query, 0, 0)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response failed", slog.String("error", err.Error()))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
