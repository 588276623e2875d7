// Package pipeline runs the asynchronous enrichment of a captured
// session: content fallback extraction, per-tab summarization, then
// topical clustering.
package pipeline

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/lotas/tabtriage/internal/applog"
	"github.com/lotas/tabtriage/internal/cluster"
	"github.com/lotas/tabtriage/internal/extract"
	"github.com/lotas/tabtriage/internal/progress"
	"github.com/lotas/tabtriage/internal/storage"
	"github.com/lotas/tabtriage/internal/summarize"
	"github.com/lotas/tabtriage/internal/urlnorm"
)

// TabSummarizer is what Enrich needs from a summarizer; the real one
// shells out to a CLI.
type TabSummarizer interface {
	Summarize(ctx context.Context, in summarize.Input) summarize.Result
}

// Fetcher retrieves page text server-side when the capture carried
// none.
type Fetcher func(ctx context.Context, url string) (string, error)

// Runner enriches sessions one goroutine each, single-flight per
// session id.
type Runner struct {
	DB         *sql.DB
	Summarizer TabSummarizer
	Progress   *progress.Tracker
	Fetch      Fetcher

	mu      sync.Mutex
	running map[int64]bool
	wg      sync.WaitGroup
}

func NewRunner(db *sql.DB, s TabSummarizer, tracker *progress.Tracker) *Runner {
	return &Runner{
		DB:         db,
		Summarizer: s,
		Progress:   tracker,
		Fetch:      extract.Fetch,
		running:    make(map[int64]bool),
	}
}

// Start launches enrichment for a session in the background. A second
// Start for a session still in flight is a no-op.
func (r *Runner) Start(ctx context.Context, sessionID int64, tabIDs []int64) {
	r.mu.Lock()
	if r.running[sessionID] {
		r.mu.Unlock()
		applog.Warn("pipeline.already_running", "session", sessionID)
		return
	}
	r.running[sessionID] = true
	r.mu.Unlock()

	r.Progress.Start(sessionID, len(tabIDs))
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.running, sessionID)
			r.mu.Unlock()
		}()
		r.enrich(ctx, sessionID, tabIDs)
	}()
}

// Wait blocks until all in-flight enrichment finishes, for shutdown.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) enrich(ctx context.Context, sessionID int64, tabIDs []int64) {
	started := time.Now()
	applog.Info("pipeline.start", "session", sessionID, "tabs", len(tabIDs))

	for _, tabID := range tabIDs {
		if ctx.Err() != nil {
			break
		}
		r.enrichTab(ctx, sessionID, tabID)
		r.Progress.Step(sessionID)
	}

	r.Progress.Clustering(sessionID)
	count := r.clusterSession(sessionID)
	r.Progress.Done(sessionID, count)

	applog.Info("pipeline.done", "session", sessionID,
		"clusters", count, "elapsed", time.Since(started).Round(time.Millisecond))
}

// enrichTab summarizes one tab. Every failure is logged and absorbed:
// a broken tab still counts as processed so progress completes.
func (r *Runner) enrichTab(ctx context.Context, sessionID, tabID int64) {
	tab, err := storage.GetTab(r.DB, tabID)
	if err != nil {
		applog.Error("pipeline.load_tab", err, "session", sessionID, "tab", tabID)
		return
	}

	content := tab.Content
	if !tab.HasContent && r.Fetch != nil {
		text, err := r.Fetch(ctx, tab.URL)
		if err != nil {
			applog.Info("pipeline.fetch_fallback", "tab", tabID, "err", err)
		} else if err := storage.UpdateContent(r.DB, tabID, text); err != nil {
			applog.Error("pipeline.store_content", err, "tab", tabID)
		} else {
			content = text
		}
	}

	result := r.Summarizer.Summarize(ctx, summarize.Input{
		Title:   tab.Title,
		URL:     tab.URL,
		Content: content,
	})
	if result.Failed {
		// The summary column stays NULL; the tab surfaces as
		// unsummarized, not as an error.
		applog.Warn("pipeline.summarize_failed", "tab", tabID, "title", tab.Title)
		return
	}

	if err := storage.UpdateEnrichment(r.DB, tabID, result.Summary, result.SuggestedCategory, result.Tags); err != nil {
		applog.Error("pipeline.store_enrichment", err, "tab", tabID)
	}
}

// agentGrace is how long the browser agent gets to deliver re-extracted
// content before the server falls back to fetching the page itself.
const agentGrace = 15 * time.Second

// Resummarize re-runs summarization for one tab in the background,
// after its content changed.
func (r *Runner) Resummarize(ctx context.Context, tabID int64) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		tab, err := storage.GetTab(r.DB, tabID)
		if err != nil {
			applog.Error("pipeline.resummarize_load", err, "tab", tabID)
			return
		}
		result := r.Summarizer.Summarize(ctx, summarize.Input{
			Title: tab.Title, URL: tab.URL, Content: tab.Content,
		})
		if result.Failed {
			// Keep whatever enrichment the tab already has.
			applog.Warn("pipeline.resummarize_failed", "tab", tabID, "title", tab.Title)
			return
		}
		if err := storage.UpdateEnrichment(r.DB, tabID, result.Summary, result.SuggestedCategory, result.Tags); err != nil {
			applog.Error("pipeline.resummarize_store", err, "tab", tabID)
			return
		}
		applog.Info("pipeline.resummarized", "tab", tabID, "failed", result.Failed)
	}()
}

// ReExtract gives the agent a grace period to deliver content for the
// queued tab, then falls back to fetching the page server-side. Either
// path ends in a re-summarization.
func (r *Runner) ReExtract(ctx context.Context, tabID int64, url string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		select {
		case <-time.After(agentGrace):
		case <-ctx.Done():
			return
		}

		tab, err := storage.GetTab(r.DB, tabID)
		if err != nil {
			applog.Error("pipeline.reextract_load", err, "tab", tabID)
			return
		}
		if !tab.PendingReExtract {
			// The agent already delivered.
			return
		}
		r.fallbackFetch(ctx, tabID, url)
	}()
}

// Fallback runs the server-side extraction for a tab the agent gave up
// on, in the background. Safe to call repeatedly.
func (r *Runner) Fallback(ctx context.Context, tabID int64, url string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.fallbackFetch(ctx, tabID, url)
	}()
}

// fallbackFetch unqueues the tab so the agent's poll loop stops seeing
// it, then fetches the page server-side. Either outcome leaves the tab
// out of the queue; only a successful fetch mutates content.
func (r *Runner) fallbackFetch(ctx context.Context, tabID int64, url string) {
	if err := storage.ClearReExtract(r.DB, tabID); err != nil {
		applog.Error("pipeline.reextract_unqueue", err, "tab", tabID)
		return
	}

	if r.Fetch == nil {
		return
	}
	text, err := r.Fetch(ctx, url)
	if err != nil {
		applog.Warn("pipeline.reextract_fallback", "tab", tabID, "err", err)
		return
	}
	if err := storage.UpdateContent(r.DB, tabID, text); err != nil {
		applog.Error("pipeline.reextract_store", err, "tab", tabID)
		return
	}
	applog.Info("pipeline.reextract_fetched", "tab", tabID, "chars", len(text))
	r.Resummarize(ctx, tabID)
}

// clusterSession groups the session's tabs and stores the assignments,
// returning the cluster count.
func (r *Runner) clusterSession(sessionID int64) int {
	tabs, err := storage.ListSessionTabs(r.DB, sessionID)
	if err != nil {
		applog.Error("pipeline.list_tabs", err, "session", sessionID)
		return 0
	}

	items := make([]cluster.Item, len(tabs))
	for i, t := range tabs {
		items[i] = cluster.Item{
			TabID:  t.ID,
			Title:  t.Title,
			Tags:   t.Tags,
			Domain: urlnorm.Domain(t.URL),
		}
	}

	clusters := cluster.Assign(items)
	if len(clusters) == 0 {
		return 0
	}

	assignments := make([]storage.ClusterAssignment, 0, len(tabs))
	for _, c := range clusters {
		for _, id := range c.TabIDs {
			assignments = append(assignments, storage.ClusterAssignment{
				TabID: id, ClusterID: c.ID, ClusterLabel: c.Label,
			})
		}
	}
	if err := storage.UpdateClusters(r.DB, assignments); err != nil {
		applog.Error("pipeline.store_clusters", err, "session", sessionID)
		return 0
	}
	return len(clusters)
}
