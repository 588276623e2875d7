// Package triage applies user decisions to captured tabs: manual
// categorization, bulk updates, one-shot auto-triage from the AI
// suggestions, and undo of the latter.
package triage

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lotas/tabtriage/internal/applog"
	"github.com/lotas/tabtriage/internal/storage"
)

// Categories a tab can be filed under.
const (
	CategoryReadLater  = "read-later"
	CategoryReference  = "reference"
	CategoryActionable = "actionable"
	CategoryArchive    = "archive"
)

func ValidCategory(c string) bool {
	switch c {
	case CategoryReadLater, CategoryReference, CategoryActionable, CategoryArchive:
		return true
	}
	return false
}

// undoTTL bounds how long an auto-triage batch stays reversible.
const undoTTL = 5 * time.Minute

var ErrUndoExpired = errors.New("undo batch not found or expired")

// Item is one triage decision. Nil pointer fields are left untouched.
type Item struct {
	TabID    int64    `json:"tab_id"`
	Category *string  `json:"category,omitempty"`
	UserNote *string  `json:"user_note,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Starred  *bool    `json:"starred,omitempty"`
}

// ItemResult reports the outcome per tab in a bulk request.
type ItemResult struct {
	TabID  int64  `json:"tab_id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type preState struct {
	tabID     int64
	category  string
	starred   bool
	triagedAt *time.Time
}

type undoBatch struct {
	state   []preState
	created time.Time
}

// Service carries the in-memory undo buffer next to the database.
type Service struct {
	DB *sql.DB

	mu   sync.Mutex
	undo map[string]undoBatch
}

func NewService(db *sql.DB) *Service {
	return &Service{DB: db, undo: make(map[string]undoBatch)}
}

// Apply triages one tab.
func (s *Service) Apply(item Item) error {
	if item.Category != nil && !ValidCategory(*item.Category) {
		return fmt.Errorf("unknown category %q", *item.Category)
	}
	return storage.ApplyTriage(s.DB, storage.TriageUpdate{
		TabID:    item.TabID,
		Category: item.Category,
		UserNote: item.UserNote,
		Tags:     item.Tags,
		Starred:  item.Starred,
	})
}

// ApplyBulk triages many tabs, isolating failures per item.
func (s *Service) ApplyBulk(items []Item) []ItemResult {
	results := make([]ItemResult, len(items))
	for i, item := range items {
		results[i] = ItemResult{TabID: item.TabID, Status: "triaged"}
		if err := s.Apply(item); err != nil {
			status := "error"
			if errors.Is(err, storage.ErrNotFound) {
				status = "not_found"
			}
			results[i] = ItemResult{TabID: item.TabID, Status: status, Error: err.Error()}
		}
	}
	return results
}

// Preview describes what Auto would do without changing anything.
type Preview struct {
	Total          int                 `json:"total"`
	Counts         map[string]int      `json:"counts"`
	WillClose      int                 `json:"will_close"`
	WillStar       int                 `json:"will_star"`
	TabsByCategory map[string][]TabRef `json:"tabs_by_category"`
}

type TabRef struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

func (s *Service) AutoPreview() (*Preview, error) {
	tabs, err := storage.UntriagedSuggested(s.DB)
	if err != nil {
		return nil, err
	}

	p := &Preview{
		Counts:         map[string]int{CategoryReadLater: 0, CategoryReference: 0, CategoryActionable: 0, CategoryArchive: 0},
		TabsByCategory: map[string][]TabRef{},
	}
	for _, t := range tabs {
		if !ValidCategory(t.SuggestedCategory) {
			continue
		}
		p.Total++
		p.Counts[t.SuggestedCategory]++
		p.TabsByCategory[t.SuggestedCategory] = append(
			p.TabsByCategory[t.SuggestedCategory], TabRef{ID: t.ID, Title: t.Title, URL: t.URL})
	}
	p.WillClose = p.Counts[CategoryArchive]
	p.WillStar = p.Counts[CategoryActionable]
	return p, nil
}

// AutoResult reports an auto-triage run. BatchID is empty when there
// was nothing to do.
type AutoResult struct {
	Total          int    `json:"total"`
	Saved          int    `json:"saved"`
	Starred        int    `json:"starred"`
	Archived       int    `json:"archived"`
	CloseRequested int    `json:"close_requested"`
	BatchID        string `json:"batch_id,omitempty"`
}

// Auto files every untriaged tab under its suggested category.
// Actionable tabs get starred, archived tabs get queued for closing.
// The pre-triage state is buffered under the returned batch id so the
// run can be undone for a few minutes.
func (s *Service) Auto() (*AutoResult, error) {
	tabs, err := storage.UntriagedSuggested(s.DB)
	if err != nil {
		return nil, err
	}
	if len(tabs) == 0 {
		return &AutoResult{}, nil
	}

	batchID := uuid.NewString()[:8]
	state := make([]preState, len(tabs))
	for i, t := range tabs {
		state[i] = preState{tabID: t.ID, category: t.Category, starred: t.Starred, triagedAt: t.TriagedAt}
	}
	s.mu.Lock()
	s.undo[batchID] = undoBatch{state: state, created: time.Now()}
	for id, b := range s.undo {
		if time.Since(b.created) > undoTTL {
			delete(s.undo, id)
		}
	}
	s.mu.Unlock()

	res := &AutoResult{Total: len(tabs), BatchID: batchID}
	var closeIDs []int64

	for _, t := range tabs {
		cat := t.SuggestedCategory
		if !ValidCategory(cat) {
			cat = CategoryReadLater
		}
		item := Item{TabID: t.ID, Category: &cat}
		if cat == CategoryActionable {
			starred := true
			item.Starred = &starred
			res.Starred++
		}
		if cat == CategoryArchive {
			res.Archived++
			closeIDs = append(closeIDs, t.ID)
		} else {
			res.Saved++
		}
		if err := s.Apply(item); err != nil {
			applog.Error("triage.auto", err, "tab", t.ID)
		}
	}

	if len(closeIDs) > 0 {
		n, err := storage.RequestCloseBulk(s.DB, closeIDs)
		if err != nil {
			applog.Error("triage.auto_close", err)
		} else {
			res.CloseRequested = n
		}
	}

	applog.Info("triage.auto", "batch", batchID, "total", res.Total,
		"starred", res.Starred, "archived", res.Archived)
	return res, nil
}

// Undo restores the pre-triage state of an auto-triage batch and pulls
// its tabs back out of the close queue.
func (s *Service) Undo(batchID string) (int, error) {
	s.mu.Lock()
	batch, ok := s.undo[batchID]
	if ok && time.Since(batch.created) > undoTTL {
		delete(s.undo, batchID)
		ok = false
	}
	if ok {
		delete(s.undo, batchID)
	}
	s.mu.Unlock()

	if !ok {
		return 0, ErrUndoExpired
	}

	restored := 0
	for _, st := range batch.state {
		if err := storage.RestoreTriageState(s.DB, st.tabID, st.category, st.starred, st.triagedAt); err != nil {
			applog.Error("triage.undo", err, "tab", st.tabID)
			continue
		}
		if tab, err := storage.GetTab(s.DB, st.tabID); err == nil && tab.PendingClose {
			if err := storage.ConfirmClose(s.DB, tab.NormalizedURL); err != nil {
				applog.Error("triage.undo_unqueue", err, "tab", st.tabID)
			}
		}
		restored++
	}

	applog.Info("triage.undo", "batch", batchID, "restored", restored)
	return restored, nil
}
