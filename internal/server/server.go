// Package server exposes the HTTP API consumed by the browser agent
// and the triage UI.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/lotas/tabtriage/internal/applog"
	"github.com/lotas/tabtriage/internal/capture"
	"github.com/lotas/tabtriage/internal/pipeline"
	"github.com/lotas/tabtriage/internal/progress"
	"github.com/lotas/tabtriage/internal/storage"
	"github.com/lotas/tabtriage/internal/triage"
)

// maxBodySize bounds capture payloads; a window full of tabs with
// content can be a few megabytes.
const maxBodySize = 32 << 20

// Server wires the services behind the HTTP API.
type Server struct {
	addr     string
	db       *sql.DB
	capture  *capture.Service
	triage   *triage.Service
	progress *progress.Tracker
	pipeline *pipeline.Runner

	// baseCtx outlives individual requests; background work started
	// from a handler must not die with the request.
	baseCtx context.Context
}

func New(addr string, db *sql.DB, cap *capture.Service, tri *triage.Service, tracker *progress.Tracker, runner *pipeline.Runner) *Server {
	return &Server{
		addr:     addr,
		db:       db,
		capture:  cap,
		triage:   tri,
		progress: tracker,
		pipeline: runner,
		baseCtx:  context.Background(),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/capture", s.handleCapture)
	mux.HandleFunc("GET /api/capture/{id}/progress", s.handleProgress)
	mux.HandleFunc("GET /api/capture/{id}/progress/stream", s.handleProgressStream)

	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}/tabs", s.handleSessionTabs)
	mux.HandleFunc("POST /api/sessions/{id}/archive", s.handleArchiveSession)

	mux.HandleFunc("GET /api/tabs/pending-close", s.handlePendingClose)
	mux.HandleFunc("POST /api/tabs/confirm-close", s.handleConfirmClose)
	mux.HandleFunc("POST /api/tabs/request-close-bulk", s.handleRequestCloseBulk)
	mux.HandleFunc("GET /api/tabs/pending-re-extract", s.handlePendingReExtract)

	mux.HandleFunc("GET /api/tabs/{id}", s.handleGetTab)
	mux.HandleFunc("GET /api/tabs/{id}/content", s.handleTabContent)
	mux.HandleFunc("POST /api/tabs/{id}/request-close", s.handleRequestClose)
	mux.HandleFunc("POST /api/tabs/{id}/request-re-extract", s.handleRequestReExtract)
	mux.HandleFunc("POST /api/tabs/{id}/update-content", s.handleUpdateContent)
	mux.HandleFunc("POST /api/tabs/{id}/star", s.handleStar)

	mux.HandleFunc("POST /api/triage", s.handleTriage)
	mux.HandleFunc("POST /api/triage/bulk", s.handleTriageBulk)
	mux.HandleFunc("GET /api/triage/auto/preview", s.handleAutoPreview)
	mux.HandleFunc("POST /api/triage/auto", s.handleAuto)
	mux.HandleFunc("POST /api/triage/auto/undo", s.handleAutoUndo)

	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/insights/topics", s.handleTopics)

	return s.logRequests(mux)
}

// ListenAndServe runs the API until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.baseCtx = ctx

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	applog.Info("server.start", "addr", s.addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		next.ServeHTTP(w, r)
		applog.Info("http.request", "method", r.Method, "path", r.URL.Path)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// pathID parses the {id} path segment, writing a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// notFoundOr500 maps storage errors onto HTTP statuses.
func notFoundOr500(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	applog.Error("http.internal", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
