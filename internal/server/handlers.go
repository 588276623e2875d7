package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/lotas/tabtriage/internal/capture"
	"github.com/lotas/tabtriage/internal/storage"
	"github.com/lotas/tabtriage/internal/triage"
	"github.com/lotas/tabtriage/internal/urlnorm"
)

// tabPayload is the wire form of a tab. Content is only included on
// the dedicated content endpoint.
type tabPayload struct {
	ID                int64      `json:"id"`
	SessionID         int64      `json:"session_id"`
	URL               string     `json:"url"`
	Title             string     `json:"title"`
	Favicon           string     `json:"favicon,omitempty"`
	Summary           string     `json:"summary,omitempty"`
	SuggestedCategory string     `json:"suggested_category,omitempty"`
	Tags              []string   `json:"tags,omitempty"`
	Category          string     `json:"category,omitempty"`
	UserNote          string     `json:"user_note,omitempty"`
	Starred           bool       `json:"starred"`
	ClusterID         string     `json:"cluster_id,omitempty"`
	ClusterLabel      string     `json:"cluster_label,omitempty"`
	HasContent        bool       `json:"has_content"`
	CapturedAt        time.Time  `json:"captured_at"`
	TriagedAt         *time.Time `json:"triaged_at,omitempty"`
	Snippet           string     `json:"snippet,omitempty"`
}

func toTabPayload(t *storage.Tab) tabPayload {
	return tabPayload{
		ID:                t.ID,
		SessionID:         t.SessionID,
		URL:               t.URL,
		Title:             t.Title,
		Favicon:           t.Favicon,
		Summary:           t.Summary,
		SuggestedCategory: t.SuggestedCategory,
		Tags:              t.Tags,
		Category:          t.Category,
		UserNote:          t.UserNote,
		Starred:           t.Starred,
		ClusterID:         t.ClusterID,
		ClusterLabel:      t.ClusterLabel,
		HasContent:        t.HasContent,
		CapturedAt:        t.CapturedAt,
		TriagedAt:         t.TriagedAt,
	}
}

type sessionPayload struct {
	ID           int64     `json:"id"`
	WindowTitle  string    `json:"window_title,omitempty"`
	Hostname     string    `json:"hostname"`
	CapturedAt   time.Time `json:"captured_at"`
	Status       string    `json:"status"`
	TabCount     int       `json:"tab_count"`
	TriagedCount int       `json:"triaged_count"`
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	var req capture.Request
	if !readJSON(w, r, &req) {
		return
	}
	if len(req.Tabs) == 0 {
		writeError(w, http.StatusBadRequest, "no tabs in request")
		return
	}
	for _, t := range req.Tabs {
		if t.URL == "" {
			writeError(w, http.StatusBadRequest, "tab without url")
			return
		}
	}

	res, err := s.capture.Capture(s.baseCtx, req)
	if err != nil {
		notFoundOr500(w, err)
		return
	}

	if res.AllDuplicates {
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id": nil,
			"tab_count":  0,
			"skipped":    res.Skipped,
			"status":     "all_duplicates",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": res.SessionID,
		"tab_count":  res.TabCount,
		"skipped":    res.Skipped,
		"status":     "captured",
	})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.progress.Get(id))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := storage.ListSessions(s.db)
	if err != nil {
		notFoundOr500(w, err)
		return
	}
	out := make([]sessionPayload, len(sessions))
	for i, sess := range sessions {
		out[i] = sessionPayload{
			ID:           sess.ID,
			WindowTitle:  sess.WindowTitle,
			Hostname:     sess.Hostname,
			CapturedAt:   sess.CapturedAt,
			Status:       sess.Status,
			TabCount:     sess.TabCount,
			TriagedCount: sess.TriagedCount,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) handleSessionTabs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := storage.GetSession(s.db, id); err != nil {
		notFoundOr500(w, err)
		return
	}
	tabs, err := storage.ListSessionTabs(s.db, id)
	if err != nil {
		notFoundOr500(w, err)
		return
	}
	out := make([]tabPayload, len(tabs))
	for i := range tabs {
		out[i] = toTabPayload(&tabs[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"tabs": out})
}

func (s *Server) handleArchiveSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := storage.ArchiveSession(s.db, id); err != nil {
		notFoundOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "status": storage.StatusArchived})
}

func (s *Server) handleGetTab(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tab, err := storage.GetTab(s.db, id)
	if err != nil {
		notFoundOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTabPayload(tab))
}

func (s *Server) handleTabContent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tab, err := storage.GetTab(s.db, id)
	if err != nil {
		notFoundOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tab_id":  tab.ID,
		"content": tab.Content,
	})
}

func (s *Server) handlePendingClose(w http.ResponseWriter, r *http.Request) {
	urls, err := storage.PendingCloseURLs(s.db)
	if err != nil {
		notFoundOr500(w, err)
		return
	}
	if urls == nil {
		urls = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"urls": urls})
}

func (s *Server) handleConfirmClose(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "missing url")
		return
	}
	if err := storage.ConfirmClose(s.db, urlnorm.Normalize(req.URL)); err != nil {
		notFoundOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
}

func (s *Server) handleRequestClose(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := storage.RequestClose(s.db, id); err != nil {
		notFoundOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "queued", "tab_id": id})
}

func (s *Server) handleRequestCloseBulk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TabIDs []int64 `json:"tab_ids"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if len(req.TabIDs) == 0 {
		writeError(w, http.StatusBadRequest, "no tab_ids")
		return
	}
	n, err := storage.RequestCloseBulk(s.db, req.TabIDs)
	if err != nil {
		notFoundOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "queued", "queued": n})
}

func (s *Server) handlePendingReExtract(w http.ResponseWriter, r *http.Request) {
	pending, err := storage.PendingReExtracts(s.db)
	if err != nil {
		notFoundOr500(w, err)
		return
	}
	if pending == nil {
		pending = []storage.PendingReExtract{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tabs": pending})
}

func (s *Server) handleRequestReExtract(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tab, err := storage.GetTab(s.db, id)
	if err != nil {
		notFoundOr500(w, err)
		return
	}
	if err := storage.RequestReExtract(s.db, id); err != nil {
		notFoundOr500(w, err)
		return
	}
	s.pipeline.ReExtract(s.baseCtx, id, tab.URL)
	writeJSON(w, http.StatusOK, map[string]any{"status": "queued", "tab_id": id})
}

func (s *Server) handleUpdateContent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Content *string `json:"content"`
	}
	if !readJSON(w, r, &req) {
		return
	}

	if req.Content == nil || *req.Content == "" {
		// The agent could not find the tab or extraction failed there;
		// unqueue it and fetch the page server-side instead.
		tab, err := storage.GetTab(s.db, id)
		if err != nil {
			notFoundOr500(w, err)
			return
		}
		s.pipeline.Fallback(s.baseCtx, id, tab.URL)
		writeJSON(w, http.StatusOK, map[string]any{"status": "not_found", "tab_id": id})
		return
	}

	if err := storage.UpdateContent(s.db, id, *req.Content); err != nil {
		notFoundOr500(w, err)
		return
	}
	s.pipeline.Resummarize(s.baseCtx, id)
	writeJSON(w, http.StatusOK, map[string]any{"status": "content_received", "tab_id": id})
}

func (s *Server) handleStar(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Starred bool `json:"starred"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if err := storage.SetStar(s.db, id, req.Starred); err != nil {
		notFoundOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tab_id": id, "starred": req.Starred})
}

func (s *Server) handleTriage(w http.ResponseWriter, r *http.Request) {
	var item triage.Item
	if !readJSON(w, r, &item) {
		return
	}
	if err := s.triage.Apply(item); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			notFoundOr500(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tab_id": item.TabID, "status": "triaged"})
}

func (s *Server) handleTriageBulk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items []triage.Item `json:"items"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "no items")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": s.triage.ApplyBulk(req.Items)})
}

func (s *Server) handleAutoPreview(w http.ResponseWriter, r *http.Request) {
	preview, err := s.triage.AutoPreview()
	if err != nil {
		notFoundOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (s *Server) handleAuto(w http.ResponseWriter, r *http.Request) {
	res, err := s.triage.Auto()
	if err != nil {
		notFoundOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAutoUndo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BatchID string `json:"batch_id"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	restored, err := s.triage.Undo(req.BatchID)
	if err != nil {
		if errors.Is(err, triage.ErrUndoExpired) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		notFoundOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "undone", "restored": restored})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")

	var out []tabPayload
	if len(query) >= 2 {
		results, err := storage.SearchTabs(s.db, query, 100)
		if err != nil {
			notFoundOr500(w, err)
			return
		}
		out = make([]tabPayload, len(results))
		for i := range results {
			out[i] = toTabPayload(&results[i].Tab)
			out[i].Snippet = results[i].Snippet
		}
	} else {
		var sessionID int64
		if v := q.Get("session_id"); v != "" {
			sessionID, _ = strconv.ParseInt(v, 10, 64)
		}
		tabs, err := storage.FilterTabs(s.db, storage.Filter{
			Category:  q.Get("category"),
			Starred:   q.Get("starred") == "true" || q.Get("starred") == "1",
			SessionID: sessionID,
		}, 200)
		if err != nil {
			notFoundOr500(w, err)
			return
		}
		out = make([]tabPayload, len(tabs))
		for i := range tabs {
			out[i] = toTabPayload(&tabs[i])
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tabs": out})
}

func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := aggregateTopics(s.db)
	if err != nil {
		notFoundOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, topics)
}
