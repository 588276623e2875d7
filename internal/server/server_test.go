package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/lotas/tabtriage/internal/capture"
	"github.com/lotas/tabtriage/internal/config"
	"github.com/lotas/tabtriage/internal/pipeline"
	"github.com/lotas/tabtriage/internal/progress"
	"github.com/lotas/tabtriage/internal/storage"
	"github.com/lotas/tabtriage/internal/summarize"
	"github.com/lotas/tabtriage/internal/triage"
)

// instantSummarizer enriches without shelling out.
type instantSummarizer struct{}

func (instantSummarizer) Summarize(_ context.Context, in summarize.Input) summarize.Result {
	return summarize.Result{
		Summary:           "Summary of " + in.Title,
		SuggestedCategory: "reference",
		Tags:              []string{"test"},
	}
}

type testEnv struct {
	srv *httptest.Server
	db  *sql.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	tracker := progress.NewTracker()
	runner := pipeline.NewRunner(db, instantSummarizer{}, tracker)
	runner.Fetch = nil
	t.Cleanup(runner.Wait)

	cap := capture.NewService(db, runner, config.NewStore(config.Default()))
	tri := triage.NewService(db)

	s := New("127.0.0.1:0", db, cap, tri, tracker, runner)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, db: db}
}

func (e *testEnv) post(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(e.srv.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp, decodeBody(t, resp)
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var m map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return m
}

// captureBatch captures two tabs and waits for enrichment to finish.
func captureBatch(t *testing.T, e *testEnv) int64 {
	t.Helper()
	resp, body := e.post(t, "/api/capture", map[string]any{
		"window_title": "Test window",
		"tabs": []map[string]any{
			{"url": "https://go.dev/blog/errors", "title": "Errors are values", "content": strings.Repeat("error handling in go ", 20)},
			{"url": "https://go.dev/blog/context", "title": "Go Concurrency Patterns: Context", "content": strings.Repeat("context cancellation in go ", 20)},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("capture: HTTP %d: %v", resp.StatusCode, body)
	}
	sessionID := int64(body["session_id"].(float64))
	waitForDone(t, e, sessionID)
	return sessionID
}

func waitForDone(t *testing.T, e *testEnv, sessionID int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_, body := e.get(t, fmt.Sprintf("/api/capture/%d/progress", sessionID))
		if body["phase"] == "done" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("session %d never finished", sessionID)
}

func TestCaptureEndpoint(t *testing.T) {
	e := newTestEnv(t)

	resp, body := e.post(t, "/api/capture", map[string]any{
		"tabs": []map[string]any{
			{"url": "https://example.com/a", "title": "A"},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("HTTP %d: %v", resp.StatusCode, body)
	}
	if body["status"] != "captured" || body["tab_count"].(float64) != 1 {
		t.Errorf("body = %v", body)
	}

	// The same URL again: all-duplicates variant with a null session id.
	resp, body = e.post(t, "/api/capture", map[string]any{
		"tabs": []map[string]any{
			{"url": "https://example.com/a", "title": "A again"},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("HTTP %d", resp.StatusCode)
	}
	if body["status"] != "all_duplicates" || body["session_id"] != nil {
		t.Errorf("body = %v", body)
	}
}

func TestCaptureValidation(t *testing.T) {
	e := newTestEnv(t)

	resp, err := http.Post(e.srv.URL+"/api/capture", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad JSON: HTTP %d", resp.StatusCode)
	}

	resp, _ = e.post(t, "/api/capture", map[string]any{"tabs": []map[string]any{}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty tabs: HTTP %d", resp.StatusCode)
	}

	resp, _ = e.post(t, "/api/capture", map[string]any{
		"tabs": []map[string]any{{"title": "no url"}},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing url: HTTP %d", resp.StatusCode)
	}
}

func TestSessionEndpoints(t *testing.T) {
	e := newTestEnv(t)
	sessionID := captureBatch(t, e)

	_, body := e.get(t, "/api/sessions")
	sessions := body["sessions"].([]any)
	if len(sessions) != 1 {
		t.Fatalf("sessions = %v", sessions)
	}
	first := sessions[0].(map[string]any)
	if int64(first["id"].(float64)) != sessionID || first["tab_count"].(float64) != 2 {
		t.Errorf("session = %v", first)
	}

	_, body = e.get(t, fmt.Sprintf("/api/sessions/%d/tabs", sessionID))
	tabs := body["tabs"].([]any)
	if len(tabs) != 2 {
		t.Fatalf("tabs = %v", tabs)
	}
	tab := tabs[0].(map[string]any)
	if tab["summary"] == "" || tab["suggested_category"] != "reference" {
		t.Errorf("tab not enriched: %v", tab)
	}

	resp, _ := e.get(t, "/api/sessions/9999/tabs")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session: HTTP %d", resp.StatusCode)
	}

	_, body = e.post2(t, fmt.Sprintf("/api/sessions/%d/archive", sessionID))
	if body["status"] != "archived" {
		t.Errorf("archive = %v", body)
	}
	_, body = e.get(t, "/api/sessions")
	first = body["sessions"].([]any)[0].(map[string]any)
	if first["status"] != "archived" {
		t.Errorf("session after archive = %v", first)
	}

	resp, _ = e.post2(t, "/api/sessions/9999/archive")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("archive unknown session: HTTP %d", resp.StatusCode)
	}
}

func TestTabEndpoints(t *testing.T) {
	e := newTestEnv(t)
	sessionID := captureBatch(t, e)

	_, body := e.get(t, fmt.Sprintf("/api/sessions/%d/tabs", sessionID))
	tab := body["tabs"].([]any)[0].(map[string]any)
	tabID := int64(tab["id"].(float64))

	_, detail := e.get(t, fmt.Sprintf("/api/tabs/%d", tabID))
	if detail["url"] != "https://go.dev/blog/errors" {
		t.Errorf("detail = %v", detail)
	}
	if _, hasContent := detail["content"]; hasContent {
		t.Error("detail payload must not inline content")
	}

	_, content := e.get(t, fmt.Sprintf("/api/tabs/%d/content", tabID))
	if !strings.Contains(content["content"].(string), "error handling") {
		t.Errorf("content = %v", content)
	}

	resp, _ := e.get(t, "/api/tabs/9999")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown tab: HTTP %d", resp.StatusCode)
	}
	resp, err := http.Get(e.srv.URL + "/api/tabs/abc")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("non-numeric id: HTTP %d", resp.StatusCode)
	}
}

func TestCloseQueueEndpoints(t *testing.T) {
	e := newTestEnv(t)
	sessionID := captureBatch(t, e)

	_, body := e.get(t, fmt.Sprintf("/api/sessions/%d/tabs", sessionID))
	tab := body["tabs"].([]any)[0].(map[string]any)
	tabID := int64(tab["id"].(float64))

	resp, _ := e.post(t, fmt.Sprintf("/api/tabs/%d/request-close", tabID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("request-close: HTTP %d", resp.StatusCode)
	}

	_, body = e.get(t, "/api/tabs/pending-close")
	urls := body["urls"].([]any)
	if len(urls) != 1 {
		t.Fatalf("pending = %v", urls)
	}

	resp, _ = e.post(t, "/api/tabs/confirm-close", map[string]any{"url": urls[0]})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirm-close: HTTP %d", resp.StatusCode)
	}
	_, body = e.get(t, "/api/tabs/pending-close")
	if len(body["urls"].([]any)) != 0 {
		t.Errorf("queue not drained: %v", body)
	}

	resp, _ = e.post(t, "/api/tabs/confirm-close", map[string]any{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing url: HTTP %d", resp.StatusCode)
	}

	// A raw URL with fragment and trailing slash still clears the
	// matching normalized entry.
	resp, _ = e.post(t, fmt.Sprintf("/api/tabs/%d/request-close", tabID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("request-close: HTTP %d", resp.StatusCode)
	}
	resp, _ = e.post(t, "/api/tabs/confirm-close",
		map[string]any{"url": "https://go.dev/blog/errors/#conclusion"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirm-close raw url: HTTP %d", resp.StatusCode)
	}
	_, body = e.get(t, "/api/tabs/pending-close")
	if len(body["urls"].([]any)) != 0 {
		t.Errorf("raw-url confirm left the queue populated: %v", body)
	}
}

func TestStarAndTriageEndpoints(t *testing.T) {
	e := newTestEnv(t)
	sessionID := captureBatch(t, e)

	_, body := e.get(t, fmt.Sprintf("/api/sessions/%d/tabs", sessionID))
	tabs := body["tabs"].([]any)
	tabID := int64(tabs[0].(map[string]any)["id"].(float64))

	resp, _ := e.post(t, fmt.Sprintf("/api/tabs/%d/star", tabID), map[string]any{"starred": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("star: HTTP %d", resp.StatusCode)
	}

	resp, _ = e.post(t, "/api/triage", map[string]any{"tab_id": tabID, "category": "bogus"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad category: HTTP %d", resp.StatusCode)
	}

	resp, _ = e.post(t, "/api/triage", map[string]any{"tab_id": tabID, "category": "read-later"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("triage: HTTP %d", resp.StatusCode)
	}

	tab, err := storage.GetTab(e.db, tabID)
	if err != nil {
		t.Fatalf("GetTab: %v", err)
	}
	if tab.Category != "read-later" || !tab.Starred {
		t.Errorf("tab = %+v", tab)
	}
}

func TestAutoTriageEndpoints(t *testing.T) {
	e := newTestEnv(t)
	captureBatch(t, e)

	_, preview := e.get(t, "/api/triage/auto/preview")
	if preview["total"].(float64) != 2 {
		t.Fatalf("preview = %v", preview)
	}

	_, auto := e.post2(t, "/api/triage/auto")
	if auto["total"].(float64) != 2 || auto["batch_id"] == nil {
		t.Fatalf("auto = %v", auto)
	}

	resp, undone := e.post(t, "/api/triage/auto/undo", map[string]any{"batch_id": auto["batch_id"]})
	if resp.StatusCode != http.StatusOK || undone["restored"].(float64) != 2 {
		t.Fatalf("undo = %v", undone)
	}

	resp, _ = e.post(t, "/api/triage/auto/undo", map[string]any{"batch_id": "nope"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expired undo: HTTP %d", resp.StatusCode)
	}
}

// post2 posts an empty body.
func (e *testEnv) post2(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(e.srv.URL+path, "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp, decodeBody(t, resp)
}

func TestSearchEndpoint(t *testing.T) {
	e := newTestEnv(t)
	sessionID := captureBatch(t, e)

	_, body := e.get(t, "/api/search?q=cancellation")
	tabs := body["tabs"].([]any)
	if len(tabs) != 1 {
		t.Fatalf("search tabs = %v", tabs)
	}
	if tabs[0].(map[string]any)["snippet"] == nil {
		t.Error("search result without snippet")
	}

	// Short query falls back to the filter listing.
	_, body = e.get(t, fmt.Sprintf("/api/search?session_id=%d", sessionID))
	if len(body["tabs"].([]any)) != 2 {
		t.Errorf("filter listing = %v", body)
	}
}

func TestTopicsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	captureBatch(t, e)

	_, body := e.get(t, "/api/insights/topics")
	tags := body["tags"].([]any)
	if len(tags) == 0 {
		t.Fatalf("topics = %v", body)
	}
	first := tags[0].(map[string]any)
	if first["tag"] != "test" || first["count"].(float64) != 2 {
		t.Errorf("top tag = %v", first)
	}
}

func TestUpdateContentEndpoint(t *testing.T) {
	e := newTestEnv(t)
	sessionID := captureBatch(t, e)

	_, body := e.get(t, fmt.Sprintf("/api/sessions/%d/tabs", sessionID))
	tabID := int64(body["tabs"].([]any)[0].(map[string]any)["id"].(float64))

	resp, res := e.post(t, fmt.Sprintf("/api/tabs/%d/update-content", tabID),
		map[string]any{"content": "freshly delivered text from the agent"})
	if resp.StatusCode != http.StatusOK || res["status"] != "content_received" {
		t.Fatalf("update-content = %v", res)
	}

	// Null content reports not_found without touching the tab.
	resp, res = e.post(t, fmt.Sprintf("/api/tabs/%d/update-content", tabID),
		map[string]any{"content": nil})
	if resp.StatusCode != http.StatusOK || res["status"] != "not_found" {
		t.Fatalf("null content = %v", res)
	}

	tab, err := storage.GetTab(e.db, tabID)
	if err != nil {
		t.Fatalf("GetTab: %v", err)
	}
	if !strings.Contains(tab.Content, "freshly delivered") {
		t.Errorf("content = %q", tab.Content)
	}
}

func TestProgressStream(t *testing.T) {
	e := newTestEnv(t)
	sessionID := captureBatch(t, e)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") +
		fmt.Sprintf("/api/capture/%d/progress/stream", sessionID)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	// The session is already done, so the stream delivers the terminal
	// snapshot and closes.
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var snap progress.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snap.Phase != "done" || snap.Total != 2 {
		t.Errorf("snapshot = %+v", snap)
	}

	if _, _, err := conn.Read(ctx); err == nil {
		t.Error("stream should close after done")
	}
}
