// Package capture receives tab snapshots from the browser agent,
// deduplicates them and persists the surviving tabs as a session.
package capture

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/lotas/tabtriage/internal/applog"
	"github.com/lotas/tabtriage/internal/config"
	"github.com/lotas/tabtriage/internal/storage"
	"github.com/lotas/tabtriage/internal/urlnorm"
)

// TabSnapshot is one tab as sent by the agent.
type TabSnapshot struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Content  string `json:"content,omitempty"`
	Favicon  string `json:"favicon,omitempty"`
	Behavior string `json:"behavior,omitempty"`
}

// Request is a capture batch: all tabs of one browser window.
type Request struct {
	WindowTitle string        `json:"window_title,omitempty"`
	Tabs        []TabSnapshot `json:"tabs"`
}

// Result reports what happened to a batch. When every tab was a
// duplicate no session exists and AllDuplicates is set.
type Result struct {
	SessionID     int64
	TabCount      int
	Skipped       int
	AllDuplicates bool
}

// Enricher starts asynchronous enrichment for a freshly stored
// session; the pipeline runner implements it.
type Enricher interface {
	Start(ctx context.Context, sessionID int64, tabIDs []int64)
}

// Service handles capture batches. Dedup window, content cap and the
// backend's own port are read from the store on every batch, so
// configuration reloads apply to the next capture.
type Service struct {
	DB       *sql.DB
	Pipeline Enricher
	Config   *config.Store
	Hostname string
}

func NewService(db *sql.DB, pipeline Enricher, store *config.Store) *Service {
	host, _ := os.Hostname()
	// "iMac" from "iMac.fritz.box"
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	return &Service{
		DB:       db,
		Pipeline: pipeline,
		Config:   store,
		Hostname: host,
	}
}

// Capture stores the batch and kicks off enrichment. Duplicate
// filtering happens in three layers: the backend's own page, repeats
// inside the batch, and URLs already captured inside the dedup window.
func (s *Service) Capture(ctx context.Context, req Request) (Result, error) {
	cfg := s.Config.Get()

	var kept []storage.NewTab
	skipped := 0
	seen := make(map[string]bool)

	for _, tab := range req.Tabs {
		if urlnorm.IsSelfPage(tab.URL, cfg.Port) {
			skipped++
			continue
		}

		norm := urlnorm.Normalize(tab.URL)
		if seen[norm] {
			skipped++
			continue
		}
		seen[norm] = true

		dup, err := storage.CapturedWithin(s.DB, norm, cfg.DedupWindow.Std())
		if err != nil {
			return Result{}, fmt.Errorf("dedup check %s: %w", norm, err)
		}
		if dup {
			skipped++
			continue
		}

		content := tab.Content
		if len(content) > cfg.MaxContentLength {
			content = content[:cfg.MaxContentLength]
		}
		kept = append(kept, storage.NewTab{
			URL:           tab.URL,
			NormalizedURL: norm,
			Title:         tab.Title,
			Content:       content,
			Favicon:       tab.Favicon,
			Behavior:      tab.Behavior,
		})
	}

	if len(kept) == 0 {
		applog.Info("capture.all_duplicates", "skipped", skipped)
		return Result{Skipped: skipped, AllDuplicates: true}, nil
	}

	sessionID, tabIDs, err := storage.CreateSession(s.DB, req.WindowTitle, s.Hostname, kept)
	if err != nil {
		return Result{}, fmt.Errorf("store session: %w", err)
	}

	applog.Info("capture.session", "session", sessionID,
		"tabs", len(tabIDs), "skipped", skipped, "window", req.WindowTitle)

	s.Pipeline.Start(ctx, sessionID, tabIDs)

	return Result{SessionID: sessionID, TabCount: len(tabIDs), Skipped: skipped}, nil
}
