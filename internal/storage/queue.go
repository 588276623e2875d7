package storage

import (
	"database/sql"
	"fmt"
)

// The two agent queues are modeled as flags on the tab row, not a log:
// repeated polls before confirmation are safe, and the queue state
// survives a backend restart.

// RequestClose marks a single tab for closing by the browser agent.
func RequestClose(db *sql.DB, tabID int64) error {
	res, err := db.Exec("UPDATE tabs SET pending_close = 1 WHERE id = ?", tabID)
	if err != nil {
		return fmt.Errorf("request close %d: %w", tabID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RequestCloseBulk marks several tabs for closing. Unknown ids are
// skipped; the returned count is how many tabs were actually marked.
func RequestCloseBulk(db *sql.DB, tabIDs []int64) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("UPDATE tabs SET pending_close = 1 WHERE id = ?")
	if err != nil {
		return 0, fmt.Errorf("prepare close update: %w", err)
	}
	defer stmt.Close()

	marked := 0
	for _, id := range tabIDs {
		res, err := stmt.Exec(id)
		if err != nil {
			return 0, fmt.Errorf("request close %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			marked++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return marked, nil
}

// PendingCloseURLs returns the distinct normalized URLs currently
// pending close, for the agent's poll loop.
func PendingCloseURLs(db *sql.DB) ([]string, error) {
	rows, err := db.Query(
		"SELECT DISTINCT normalized_url FROM tabs WHERE pending_close = 1 ORDER BY normalized_url")
	if err != nil {
		return nil, fmt.Errorf("query pending close: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan pending close: %w", err)
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

// ConfirmClose clears the pending-close flag for every tab matching the
// normalized URL. It succeeds whether or not anything matched — the
// agent confirms even when it found no open tab, so an unreachable URL
// cannot be polled forever.
func ConfirmClose(db *sql.DB, normalizedURL string) error {
	_, err := db.Exec(
		"UPDATE tabs SET pending_close = 0 WHERE normalized_url = ? AND pending_close = 1",
		normalizedURL,
	)
	if err != nil {
		return fmt.Errorf("confirm close %q: %w", normalizedURL, err)
	}
	return nil
}

// RequestReExtract marks a tab for content re-extraction by the agent.
func RequestReExtract(db *sql.DB, tabID int64) error {
	res, err := db.Exec("UPDATE tabs SET pending_re_extract = 1 WHERE id = ?", tabID)
	if err != nil {
		return fmt.Errorf("request re-extract %d: %w", tabID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearReExtract removes a tab from the re-extract queue without
// delivering content, when the fallback path takes over.
func ClearReExtract(db *sql.DB, tabID int64) error {
	_, err := db.Exec("UPDATE tabs SET pending_re_extract = 0 WHERE id = ?", tabID)
	if err != nil {
		return fmt.Errorf("clear re-extract %d: %w", tabID, err)
	}
	return nil
}

// PendingReExtract pairs a tab id with the URL the agent should locate.
type PendingReExtract struct {
	TabID int64  `json:"tab_id"`
	URL   string `json:"url"`
}

// PendingReExtracts returns the tabs currently awaiting re-extraction.
func PendingReExtracts(db *sql.DB) ([]PendingReExtract, error) {
	rows, err := db.Query(
		"SELECT id, normalized_url FROM tabs WHERE pending_re_extract = 1 ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query pending re-extract: %w", err)
	}
	defer rows.Close()

	var result []PendingReExtract
	for rows.Next() {
		var p PendingReExtract
		if err := rows.Scan(&p.TabID, &p.URL); err != nil {
			return nil, fmt.Errorf("scan pending re-extract: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// TabsWithoutContent returns the ids of a session's tabs that have no
// stored content, candidates for the re-extract queue.
func TabsWithoutContent(db *sql.DB, sessionID int64) ([]int64, error) {
	rows, err := db.Query(
		"SELECT id FROM tabs WHERE session_id = ? AND content IS NULL ORDER BY id", sessionID)
	if err != nil {
		return nil, fmt.Errorf("query contentless tabs: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
