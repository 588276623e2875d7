package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Session is one capture batch from one browser window.
type Session struct {
	ID           int64
	WindowTitle  string
	Hostname     string
	CapturedAt   time.Time
	Status       string
	TabCount     int
	TriagedCount int
}

// Session status values. Transitions only move forward:
// pending → triaged → archived.
const (
	StatusPending  = "pending"
	StatusTriaged  = "triaged"
	StatusArchived = "archived"
)

// NewTab is a deduplicated snapshot ready for insertion.
type NewTab struct {
	URL           string
	NormalizedURL string
	Title         string
	Content       string // "" = no content captured
	Favicon       string
	Behavior      string // opaque JSON from the agent, "" = none
}

// CreateSession inserts a session and its tabs in one transaction,
// preserving tab order, and writes each tab's full-text index row.
// Returns the session id and tab ids in input order.
func CreateSession(db *sql.DB, windowTitle, hostname string, tabs []NewTab) (int64, []int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var titleVal any
	if windowTitle != "" {
		titleVal = windowTitle
	}

	res, err := tx.Exec(
		"INSERT INTO sessions (window_title, hostname) VALUES (?, ?)",
		titleVal, hostname,
	)
	if err != nil {
		return 0, nil, fmt.Errorf("insert session: %w", err)
	}
	sessionID, err := res.LastInsertId()
	if err != nil {
		return 0, nil, fmt.Errorf("get session id: %w", err)
	}

	tabIDs := make([]int64, 0, len(tabs))
	for _, t := range tabs {
		var contentVal, faviconVal, behaviorVal any
		if t.Content != "" {
			blob, err := compressContent(t.Content)
			if err != nil {
				return 0, nil, fmt.Errorf("tab %q: %w", t.URL, err)
			}
			contentVal = blob
		}
		if t.Favicon != "" {
			faviconVal = t.Favicon
		}
		if t.Behavior != "" {
			behaviorVal = t.Behavior
		}

		res, err := tx.Exec(
			`INSERT INTO tabs (session_id, url, normalized_url, title, content, favicon, behavior)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sessionID, t.URL, t.NormalizedURL, t.Title, contentVal, faviconVal, behaviorVal,
		)
		if err != nil {
			return 0, nil, fmt.Errorf("insert tab %q: %w", t.URL, err)
		}
		tabID, err := res.LastInsertId()
		if err != nil {
			return 0, nil, fmt.Errorf("get tab id: %w", err)
		}

		_, err = tx.Exec(
			"INSERT INTO tabs_fts (rowid, title, summary, content) VALUES (?, ?, '', ?)",
			tabID, t.Title, t.Content,
		)
		if err != nil {
			return 0, nil, fmt.Errorf("index tab %q: %w", t.URL, err)
		}
		tabIDs = append(tabIDs, tabID)
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("commit transaction: %w", err)
	}
	return sessionID, tabIDs, nil
}

// ListSessions returns all sessions newest first, with per-session tab
// and triaged counts.
func ListSessions(db *sql.DB) ([]Session, error) {
	rows, err := db.Query(`
		SELECT s.id, s.window_title, s.hostname, s.captured_at, s.status,
		       COUNT(t.id),
		       SUM(CASE WHEN t.triaged_at IS NOT NULL THEN 1 ELSE 0 END)
		FROM sessions s
		LEFT JOIN tabs t ON t.session_id = s.id
		GROUP BY s.id
		ORDER BY s.captured_at DESC, s.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var result []Session
	for rows.Next() {
		var s Session
		var title sql.NullString
		var triaged sql.NullInt64
		if err := rows.Scan(&s.ID, &title, &s.Hostname, &s.CapturedAt, &s.Status, &s.TabCount, &triaged); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if title.Valid {
			s.WindowTitle = title.String
		}
		s.TriagedCount = int(triaged.Int64)
		result = append(result, s)
	}
	return result, rows.Err()
}

// GetSession returns a single session with counts.
func GetSession(db *sql.DB, id int64) (*Session, error) {
	var s Session
	var title sql.NullString
	var triaged sql.NullInt64
	err := db.QueryRow(`
		SELECT s.id, s.window_title, s.hostname, s.captured_at, s.status,
		       COUNT(t.id),
		       SUM(CASE WHEN t.triaged_at IS NOT NULL THEN 1 ELSE 0 END)
		FROM sessions s
		LEFT JOIN tabs t ON t.session_id = s.id
		WHERE s.id = ?
		GROUP BY s.id`, id,
	).Scan(&s.ID, &title, &s.Hostname, &s.CapturedAt, &s.Status, &s.TabCount, &triaged)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query session %d: %w", id, err)
	}
	if title.Valid {
		s.WindowTitle = title.String
	}
	s.TriagedCount = int(triaged.Int64)
	return &s, nil
}

// MarkSessionTriaged moves a pending session to triaged. Sessions never
// move backwards, so triaged and archived sessions are left alone.
func MarkSessionTriaged(db *sql.DB, id int64) error {
	_, err := db.Exec(
		"UPDATE sessions SET status = ? WHERE id = ? AND status = ?",
		StatusTriaged, id, StatusPending,
	)
	if err != nil {
		return fmt.Errorf("mark session %d triaged: %w", id, err)
	}
	return nil
}

// ArchiveSession moves a session to archived, its terminal status.
func ArchiveSession(db *sql.DB, id int64) error {
	res, err := db.Exec(
		"UPDATE sessions SET status = ? WHERE id = ?",
		StatusArchived, id,
	)
	if err != nil {
		return fmt.Errorf("archive session %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
