package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Tab is one captured page and its triage/enrichment state.
// String fields use "" for SQL NULL; TriagedAt is nil until triaged.
type Tab struct {
	ID                int64
	SessionID         int64
	URL               string
	NormalizedURL     string
	Title             string
	Content           string
	HasContent        bool
	Favicon           string
	Summary           string
	SuggestedCategory string
	Tags              []string
	Category          string
	UserNote          string
	Starred           bool
	ClusterID         string
	ClusterLabel      string
	Behavior          string
	CapturedAt        time.Time
	TriagedAt         *time.Time
	PendingClose      bool
	PendingReExtract  bool
}

const tabColumns = `id, session_id, url, normalized_url, title, content, favicon,
	summary, suggested_category, tags, category, user_note, starred,
	cluster_id, cluster_label, behavior, captured_at, triaged_at,
	pending_close, pending_re_extract`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTab(row rowScanner, extra ...any) (*Tab, error) {
	var t Tab
	var content []byte
	var favicon, summary, suggested, tags, category, note, clusterID, clusterLabel, behavior sql.NullString
	var triagedAt sql.NullTime

	dest := []any{
		&t.ID, &t.SessionID, &t.URL, &t.NormalizedURL, &t.Title, &content, &favicon,
		&summary, &suggested, &tags, &category, &note, &t.Starred,
		&clusterID, &clusterLabel, &behavior, &t.CapturedAt, &triagedAt,
		&t.PendingClose, &t.PendingReExtract,
	}
	err := row.Scan(append(dest, extra...)...)
	if err != nil {
		return nil, err
	}

	if content != nil {
		text, err := decompressContent(content)
		if err != nil {
			return nil, fmt.Errorf("tab %d: %w", t.ID, err)
		}
		t.Content = text
		t.HasContent = true
	}
	t.Favicon = favicon.String
	t.Summary = summary.String
	t.SuggestedCategory = suggested.String
	t.Category = category.String
	t.UserNote = note.String
	t.ClusterID = clusterID.String
	t.ClusterLabel = clusterLabel.String
	t.Behavior = behavior.String
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &t.Tags); err != nil {
			t.Tags = nil
		}
	}
	if triagedAt.Valid {
		t.TriagedAt = &triagedAt.Time
	}
	return &t, nil
}

// GetTab loads a tab by id. Returns ErrNotFound for unknown ids.
func GetTab(db *sql.DB, id int64) (*Tab, error) {
	t, err := scanTab(db.QueryRow("SELECT "+tabColumns+" FROM tabs WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query tab %d: %w", id, err)
	}
	return t, nil
}

// ListSessionTabs returns a session's tabs in capture order.
func ListSessionTabs(db *sql.DB, sessionID int64) ([]Tab, error) {
	rows, err := db.Query("SELECT "+tabColumns+" FROM tabs WHERE session_id = ? ORDER BY id", sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session %d tabs: %w", sessionID, err)
	}
	defer rows.Close()

	var result []Tab
	for rows.Next() {
		t, err := scanTab(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tab: %w", err)
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

// CapturedWithin reports whether the normalized URL was captured by any
// session within the given window. This is the inter-session dedup check.
func CapturedWithin(db *sql.DB, normalizedURL string, window time.Duration) (bool, error) {
	modifier := fmt.Sprintf("-%d seconds", int64(window.Seconds()))
	var one int
	err := db.QueryRow(
		`SELECT 1 FROM tabs WHERE normalized_url = ? AND captured_at > datetime('now', ?) LIMIT 1`,
		normalizedURL, modifier,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup lookup %q: %w", normalizedURL, err)
	}
	return true, nil
}

// marshalTags encodes tags as the JSON stored in the tags column,
// returning nil (SQL NULL) for an empty set.
func marshalTags(tags []string) (any, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}
	return string(data), nil
}

// syncFTS rewrites a tab's full-text index row from its current title,
// summary, and content. Must run inside the same transaction as the
// triggering row write so the index is never observably stale.
func syncFTS(tx *sql.Tx, tabID int64) error {
	var title string
	var summary sql.NullString
	var blob []byte
	err := tx.QueryRow("SELECT title, summary, content FROM tabs WHERE id = ?", tabID).
		Scan(&title, &summary, &blob)
	if err != nil {
		return fmt.Errorf("read tab %d for index: %w", tabID, err)
	}

	content := ""
	if blob != nil {
		if content, err = decompressContent(blob); err != nil {
			return fmt.Errorf("tab %d: %w", tabID, err)
		}
	}

	if _, err := tx.Exec("DELETE FROM tabs_fts WHERE rowid = ?", tabID); err != nil {
		return fmt.Errorf("clear index row %d: %w", tabID, err)
	}
	_, err = tx.Exec(
		"INSERT INTO tabs_fts (rowid, title, summary, content) VALUES (?, ?, ?, ?)",
		tabID, title, summary.String, content,
	)
	if err != nil {
		return fmt.Errorf("write index row %d: %w", tabID, err)
	}
	return nil
}

// UpdateEnrichment stores a summarization result. Tags already set by
// the user are preserved.
func UpdateEnrichment(db *sql.DB, tabID int64, summary, suggestedCategory string, tags []string) error {
	tagsVal, err := marshalTags(tags)
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`UPDATE tabs SET summary = ?, suggested_category = ?, tags = COALESCE(tags, ?) WHERE id = ?`,
		summary, suggestedCategory, tagsVal, tabID,
	)
	if err != nil {
		return fmt.Errorf("update enrichment %d: %w", tabID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if err := syncFTS(tx, tabID); err != nil {
		return err
	}
	return tx.Commit()
}

// ClusterAssignment maps a tab to its cluster for one enrichment pass.
type ClusterAssignment struct {
	TabID        int64
	ClusterID    string
	ClusterLabel string
}

// UpdateClusters overwrites cluster assignments for one pass in a single
// transaction. Cluster fields are never user-edited, so a plain overwrite
// is safe.
func UpdateClusters(db *sql.DB, assignments []ClusterAssignment) error {
	if len(assignments) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("UPDATE tabs SET cluster_id = ?, cluster_label = ? WHERE id = ?")
	if err != nil {
		return fmt.Errorf("prepare cluster update: %w", err)
	}
	defer stmt.Close()

	for _, a := range assignments {
		if _, err := stmt.Exec(a.ClusterID, a.ClusterLabel, a.TabID); err != nil {
			return fmt.Errorf("assign cluster for tab %d: %w", a.TabID, err)
		}
	}
	return tx.Commit()
}

// UpdateContent replaces a tab's content and clears its pending
// re-extract flag. An empty string records a confirmed extraction
// failure (content NULL). The full-text row is rewritten in the same
// transaction.
func UpdateContent(db *sql.DB, tabID int64, content string) error {
	var contentVal any
	if content != "" {
		blob, err := compressContent(content)
		if err != nil {
			return err
		}
		contentVal = blob
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		"UPDATE tabs SET content = ?, pending_re_extract = 0 WHERE id = ?",
		contentVal, tabID,
	)
	if err != nil {
		return fmt.Errorf("update content %d: %w", tabID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if err := syncFTS(tx, tabID); err != nil {
		return err
	}
	return tx.Commit()
}

// TriageUpdate carries the user-owned fields of one triage decision.
// Nil fields are left unchanged.
type TriageUpdate struct {
	TabID    int64
	Category *string
	UserNote *string
	Tags     []string
	Starred  *bool
}

// ApplyTriage updates a tab's user-owned fields. Assigning a category
// also stamps triaged_at and moves the owning session to triaged.
func ApplyTriage(db *sql.DB, u TriageUpdate) error {
	tab, err := GetTab(db, u.TabID)
	if err != nil {
		return err
	}

	sets := []string{}
	args := []any{}
	if u.Category != nil {
		sets = append(sets, "category = ?", "triaged_at = CURRENT_TIMESTAMP")
		args = append(args, *u.Category)
	}
	if u.UserNote != nil {
		sets = append(sets, "user_note = ?")
		args = append(args, *u.UserNote)
	}
	if u.Tags != nil {
		tagsVal, err := marshalTags(u.Tags)
		if err != nil {
			return err
		}
		sets = append(sets, "tags = ?")
		args = append(args, tagsVal)
	}
	if u.Starred != nil {
		sets = append(sets, "starred = ?")
		args = append(args, *u.Starred)
	}
	if len(sets) == 0 {
		return nil
	}

	query := "UPDATE tabs SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, u.TabID)
	if _, err := db.Exec(query, args...); err != nil {
		return fmt.Errorf("triage tab %d: %w", u.TabID, err)
	}

	if u.Category != nil {
		if err := MarkSessionTriaged(db, tab.SessionID); err != nil {
			return err
		}
	}
	return nil
}

// SetStar toggles a tab's star flag.
func SetStar(db *sql.DB, tabID int64, starred bool) error {
	res, err := db.Exec("UPDATE tabs SET starred = ? WHERE id = ?", starred, tabID)
	if err != nil {
		return fmt.Errorf("star tab %d: %w", tabID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RestoreTriageState rewrites the user-owned triage fields of a tab from
// a saved pre-state. Used by auto-triage undo.
func RestoreTriageState(db *sql.DB, tabID int64, category string, starred bool, triagedAt *time.Time) error {
	var catVal, triagedVal any
	if category != "" {
		catVal = category
	}
	if triagedAt != nil {
		triagedVal = *triagedAt
	}
	_, err := db.Exec(
		"UPDATE tabs SET category = ?, starred = ?, triaged_at = ? WHERE id = ?",
		catVal, starred, triagedVal, tabID,
	)
	if err != nil {
		return fmt.Errorf("restore tab %d: %w", tabID, err)
	}
	return nil
}

// UntriagedSuggested lists the tabs auto-triage operates on: not yet
// triaged but already carrying an AI suggestion.
func UntriagedSuggested(db *sql.DB) ([]Tab, error) {
	rows, err := db.Query(
		"SELECT " + tabColumns + " FROM tabs" +
			" WHERE triaged_at IS NULL AND suggested_category IS NOT NULL ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query untriaged tabs: %w", err)
	}
	defer rows.Close()

	var tabs []Tab
	for rows.Next() {
		t, err := scanTab(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tab: %w", err)
		}
		tabs = append(tabs, *t)
	}
	return tabs, rows.Err()
}
