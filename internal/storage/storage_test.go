package storage

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// testDB creates a temporary database for testing.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("OpenDB(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

// seedSession inserts a session with a couple of tabs and returns the
// session id and tab ids.
func seedSession(t *testing.T, db *sql.DB) (int64, []int64) {
	t.Helper()
	sessionID, tabIDs, err := CreateSession(db, "Work window", "laptop", []NewTab{
		{
			URL:           "https://go.dev/blog/error-handling",
			NormalizedURL: "https://go.dev/blog/error-handling",
			Title:         "Error handling in Go",
			Content:       "Errors are values. Wrapping errors preserves the cause chain.",
		},
		{
			URL:           "https://news.ycombinator.com/item?id=1#comments",
			NormalizedURL: "https://news.ycombinator.com/item?id=1",
			Title:         "Discussion thread",
		},
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return sessionID, tabIDs
}

func TestOpenDB(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "sub", "dir", "tabtriage.db")

	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("database file not created: %v", err)
	}

	// Reopening must be a no-op for migrations.
	db2, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	db2.Close()
}

func TestCreateAndGetSession(t *testing.T) {
	db := testDB(t)
	sessionID, tabIDs := seedSession(t, db)

	if len(tabIDs) != 2 {
		t.Fatalf("got %d tab ids, want 2", len(tabIDs))
	}

	s, err := GetSession(db, sessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if s.WindowTitle != "Work window" || s.Hostname != "laptop" {
		t.Errorf("unexpected session: %+v", s)
	}
	if s.Status != StatusPending {
		t.Errorf("status = %q, want %q", s.Status, StatusPending)
	}
	if s.TabCount != 2 {
		t.Errorf("tab count = %d, want 2", s.TabCount)
	}

	if _, err := GetSession(db, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing session: got %v, want ErrNotFound", err)
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	db := testDB(t)
	first, _ := seedSession(t, db)
	second, _, err := CreateSession(db, "Later", "laptop", []NewTab{
		{URL: "https://example.com/a", NormalizedURL: "https://example.com/a", Title: "A"},
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	sessions, err := ListSessions(db)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	if sessions[0].ID != second || sessions[1].ID != first {
		t.Errorf("order = [%d %d], want [%d %d]",
			sessions[0].ID, sessions[1].ID, second, first)
	}
}

func TestTabContentRoundtrip(t *testing.T) {
	db := testDB(t)
	_, tabIDs := seedSession(t, db)

	withContent, err := GetTab(db, tabIDs[0])
	if err != nil {
		t.Fatalf("GetTab: %v", err)
	}
	if !withContent.HasContent {
		t.Error("first tab should have content")
	}
	if !strings.Contains(withContent.Content, "Errors are values") {
		t.Errorf("content corrupted: %q", withContent.Content)
	}

	without, err := GetTab(db, tabIDs[1])
	if err != nil {
		t.Fatalf("GetTab: %v", err)
	}
	if without.HasContent || without.Content != "" {
		t.Errorf("second tab should have no content, got %q", without.Content)
	}
}

func TestCapturedWithin(t *testing.T) {
	db := testDB(t)
	_, tabIDs := seedSession(t, db)

	seen, err := CapturedWithin(db, "https://go.dev/blog/error-handling", 24*time.Hour)
	if err != nil {
		t.Fatalf("CapturedWithin: %v", err)
	}
	if !seen {
		t.Error("fresh capture not found inside window")
	}

	seen, err = CapturedWithin(db, "https://never-seen.example.com/", 24*time.Hour)
	if err != nil {
		t.Fatalf("CapturedWithin: %v", err)
	}
	if seen {
		t.Error("unknown URL reported as duplicate")
	}

	// Age the row past the window; it should no longer count.
	_, err = db.Exec(
		"UPDATE tabs SET captured_at = datetime('now', '-25 hours') WHERE id = ?", tabIDs[0])
	if err != nil {
		t.Fatalf("age tab: %v", err)
	}
	seen, err = CapturedWithin(db, "https://go.dev/blog/error-handling", 24*time.Hour)
	if err != nil {
		t.Fatalf("CapturedWithin: %v", err)
	}
	if seen {
		t.Error("capture outside window reported as duplicate")
	}
}

func TestCloseQueue(t *testing.T) {
	db := testDB(t)
	_, tabIDs := seedSession(t, db)

	urls, err := PendingCloseURLs(db)
	if err != nil {
		t.Fatalf("PendingCloseURLs: %v", err)
	}
	if len(urls) != 0 {
		t.Fatalf("queue not empty at start: %v", urls)
	}

	if err := RequestClose(db, tabIDs[0]); err != nil {
		t.Fatalf("RequestClose: %v", err)
	}
	if err := RequestClose(db, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("RequestClose on missing tab: got %v, want ErrNotFound", err)
	}

	urls, err = PendingCloseURLs(db)
	if err != nil {
		t.Fatalf("PendingCloseURLs: %v", err)
	}
	if len(urls) != 1 || urls[0] != "https://go.dev/blog/error-handling" {
		t.Fatalf("queue = %v", urls)
	}

	// Confirming an unknown URL still succeeds.
	if err := ConfirmClose(db, "https://not-pending.example.com/"); err != nil {
		t.Errorf("ConfirmClose unknown URL: %v", err)
	}

	if err := ConfirmClose(db, urls[0]); err != nil {
		t.Fatalf("ConfirmClose: %v", err)
	}
	urls, err = PendingCloseURLs(db)
	if err != nil {
		t.Fatalf("PendingCloseURLs: %v", err)
	}
	if len(urls) != 0 {
		t.Errorf("queue not drained after confirm: %v", urls)
	}
}

func TestRequestCloseBulkSkipsUnknown(t *testing.T) {
	db := testDB(t)
	_, tabIDs := seedSession(t, db)

	marked, err := RequestCloseBulk(db, []int64{tabIDs[0], tabIDs[1], 9999})
	if err != nil {
		t.Fatalf("RequestCloseBulk: %v", err)
	}
	if marked != 2 {
		t.Errorf("marked = %d, want 2", marked)
	}
}

func TestReExtractQueue(t *testing.T) {
	db := testDB(t)
	sessionID, tabIDs := seedSession(t, db)

	missing, err := TabsWithoutContent(db, sessionID)
	if err != nil {
		t.Fatalf("TabsWithoutContent: %v", err)
	}
	if len(missing) != 1 || missing[0] != tabIDs[1] {
		t.Fatalf("contentless tabs = %v, want [%d]", missing, tabIDs[1])
	}

	if err := RequestReExtract(db, tabIDs[1]); err != nil {
		t.Fatalf("RequestReExtract: %v", err)
	}
	pending, err := PendingReExtracts(db)
	if err != nil {
		t.Fatalf("PendingReExtracts: %v", err)
	}
	if len(pending) != 1 || pending[0].TabID != tabIDs[1] {
		t.Fatalf("pending = %+v", pending)
	}
	if pending[0].URL != "https://news.ycombinator.com/item?id=1" {
		t.Errorf("pending URL = %q", pending[0].URL)
	}

	// Delivering content clears the flag.
	if err := UpdateContent(db, tabIDs[1], "Thread about database internals."); err != nil {
		t.Fatalf("UpdateContent: %v", err)
	}
	pending, err = PendingReExtracts(db)
	if err != nil {
		t.Fatalf("PendingReExtracts: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("queue not cleared after content delivery: %+v", pending)
	}

	tab, err := GetTab(db, tabIDs[1])
	if err != nil {
		t.Fatalf("GetTab: %v", err)
	}
	if !tab.HasContent {
		t.Error("delivered content not stored")
	}
}

func TestSearchTabs(t *testing.T) {
	db := testDB(t)
	_, tabIDs := seedSession(t, db)

	if err := UpdateEnrichment(db, tabIDs[1], "A long discussion about wrapping errors in Go programs.", "reference", []string{"go", "errors"}); err != nil {
		t.Fatalf("UpdateEnrichment: %v", err)
	}

	results, err := SearchTabs(db, "wrapping errors", 0)
	if err != nil {
		t.Fatalf("SearchTabs: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, r := range results {
		if r.Snippet == "" {
			t.Errorf("tab %d: empty snippet", r.ID)
		}
	}

	// Queries shorter than two characters return nothing.
	results, err = SearchTabs(db, "a", 0)
	if err != nil {
		t.Fatalf("SearchTabs short query: %v", err)
	}
	if results != nil {
		t.Errorf("short query returned %d results", len(results))
	}

	// Raw FTS syntax in user input must not break the query.
	if _, err := SearchTabs(db, `go AND "half quote`, 0); err != nil {
		t.Errorf("quoted query: %v", err)
	}
}

func TestSearchReflectsLatestContent(t *testing.T) {
	db := testDB(t)
	_, tabIDs := seedSession(t, db)

	if err := UpdateContent(db, tabIDs[1], "Fresh article about lighthouse keepers."); err != nil {
		t.Fatalf("UpdateContent: %v", err)
	}

	results, err := SearchTabs(db, "lighthouse", 0)
	if err != nil {
		t.Fatalf("SearchTabs: %v", err)
	}
	if len(results) != 1 || results[0].ID != tabIDs[1] {
		t.Fatalf("results = %+v", results)
	}
}

func TestFilterTabs(t *testing.T) {
	db := testDB(t)
	sessionID, tabIDs := seedSession(t, db)

	if err := ApplyTriage(db, TriageUpdate{TabID: tabIDs[0], Category: strPtr("reference")}); err != nil {
		t.Fatalf("ApplyTriage: %v", err)
	}
	if err := SetStar(db, tabIDs[1], true); err != nil {
		t.Fatalf("SetStar: %v", err)
	}

	byCategory, err := FilterTabs(db, Filter{Category: "reference"}, 0)
	if err != nil {
		t.Fatalf("FilterTabs: %v", err)
	}
	if len(byCategory) != 1 || byCategory[0].ID != tabIDs[0] {
		t.Errorf("category filter = %+v", byCategory)
	}

	starred, err := FilterTabs(db, Filter{Starred: true}, 0)
	if err != nil {
		t.Fatalf("FilterTabs: %v", err)
	}
	if len(starred) != 1 || starred[0].ID != tabIDs[1] {
		t.Errorf("starred filter = %+v", starred)
	}

	bySession, err := FilterTabs(db, Filter{SessionID: sessionID}, 0)
	if err != nil {
		t.Fatalf("FilterTabs: %v", err)
	}
	if len(bySession) != 2 {
		t.Errorf("session filter returned %d tabs", len(bySession))
	}
}

func TestApplyTriageMarksSession(t *testing.T) {
	db := testDB(t)
	sessionID, tabIDs := seedSession(t, db)

	if err := ApplyTriage(db, TriageUpdate{
		TabID:    tabIDs[0],
		Category: strPtr("read-later"),
		UserNote: strPtr("finish this weekend"),
		Tags:     []string{"go", "reading"},
		Starred:  boolPtr(true),
	}); err != nil {
		t.Fatalf("ApplyTriage: %v", err)
	}

	tab, err := GetTab(db, tabIDs[0])
	if err != nil {
		t.Fatalf("GetTab: %v", err)
	}
	if tab.Category != "read-later" || tab.UserNote != "finish this weekend" || !tab.Starred {
		t.Errorf("triage not applied: %+v", tab)
	}
	if tab.TriagedAt == nil {
		t.Error("triaged_at not stamped")
	}
	if len(tab.Tags) != 2 {
		t.Errorf("tags = %v", tab.Tags)
	}

	s, err := GetSession(db, sessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if s.Status != StatusTriaged {
		t.Errorf("session status = %q, want %q", s.Status, StatusTriaged)
	}
	if s.TriagedCount != 1 {
		t.Errorf("triaged count = %d, want 1", s.TriagedCount)
	}

	// Archiving is sticky: later triage must not bounce the session
	// back to triaged.
	if err := ArchiveSession(db, sessionID); err != nil {
		t.Fatalf("ArchiveSession: %v", err)
	}
	if err := ApplyTriage(db, TriageUpdate{TabID: tabIDs[1], Category: strPtr("archive")}); err != nil {
		t.Fatalf("ApplyTriage: %v", err)
	}
	s, err = GetSession(db, sessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if s.Status != StatusArchived {
		t.Errorf("session status = %q, want %q", s.Status, StatusArchived)
	}
}

func TestUpdateEnrichmentPreservesUserTags(t *testing.T) {
	db := testDB(t)
	_, tabIDs := seedSession(t, db)

	if err := ApplyTriage(db, TriageUpdate{TabID: tabIDs[0], Tags: []string{"mine"}}); err != nil {
		t.Fatalf("ApplyTriage: %v", err)
	}
	if err := UpdateEnrichment(db, tabIDs[0], "Summary.", "reference", []string{"suggested"}); err != nil {
		t.Fatalf("UpdateEnrichment: %v", err)
	}

	tab, err := GetTab(db, tabIDs[0])
	if err != nil {
		t.Fatalf("GetTab: %v", err)
	}
	if len(tab.Tags) != 1 || tab.Tags[0] != "mine" {
		t.Errorf("user tags overwritten: %v", tab.Tags)
	}
	if tab.Summary != "Summary." || tab.SuggestedCategory != "reference" {
		t.Errorf("enrichment not applied: %+v", tab)
	}
}

func TestUpdateClusters(t *testing.T) {
	db := testDB(t)
	_, tabIDs := seedSession(t, db)

	err := UpdateClusters(db, []ClusterAssignment{
		{TabID: tabIDs[0], ClusterID: "c1", ClusterLabel: "go development"},
		{TabID: tabIDs[1], ClusterID: "c1", ClusterLabel: "go development"},
	})
	if err != nil {
		t.Fatalf("UpdateClusters: %v", err)
	}

	tab, err := GetTab(db, tabIDs[1])
	if err != nil {
		t.Fatalf("GetTab: %v", err)
	}
	if tab.ClusterID != "c1" || tab.ClusterLabel != "go development" {
		t.Errorf("cluster not assigned: %+v", tab)
	}
}

func TestRestoreTriageState(t *testing.T) {
	db := testDB(t)
	_, tabIDs := seedSession(t, db)

	if err := ApplyTriage(db, TriageUpdate{TabID: tabIDs[0], Category: strPtr("archive"), Starred: boolPtr(true)}); err != nil {
		t.Fatalf("ApplyTriage: %v", err)
	}
	if err := RestoreTriageState(db, tabIDs[0], "", false, nil); err != nil {
		t.Fatalf("RestoreTriageState: %v", err)
	}

	tab, err := GetTab(db, tabIDs[0])
	if err != nil {
		t.Fatalf("GetTab: %v", err)
	}
	if tab.Category != "" || tab.Starred || tab.TriagedAt != nil {
		t.Errorf("state not restored: %+v", tab)
	}
}
