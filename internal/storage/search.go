package storage

import (
	"database/sql"
	"fmt"
	"strings"
)

// SearchResult is a tab plus a highlighted snippet from the FTS index.
type SearchResult struct {
	Tab
	Snippet string `json:"snippet"`
}

// SearchTabs runs a full-text query over title, summary and content,
// best matches first. Queries shorter than two characters return no
// results; callers should use FilterTabs for plain listings.
func SearchTabs(db *sql.DB, query string, limit int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if len(query) < 2 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.Query(`
		SELECT `+prefixedTabColumns("t")+`,
		       snippet(tabs_fts, -1, '<mark>', '</mark>', '…', 24)
		FROM tabs_fts
		JOIN tabs t ON t.id = tabs_fts.rowid
		WHERE tabs_fts MATCH ?
		ORDER BY bm25(tabs_fts, 4.0, 2.0, 1.0)
		LIMIT ?`,
		ftsQuery(query), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var snippet string
		t, err := scanTab(rows, &snippet)
		if err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, SearchResult{Tab: *t, Snippet: snippet})
	}
	return results, rows.Err()
}

// ftsQuery turns free text into an FTS5 query: each term quoted so
// user input cannot inject query syntax, joined implicitly as AND.
func ftsQuery(q string) string {
	terms := strings.Fields(q)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(terms, " ")
}

func prefixedTabColumns(alias string) string {
	cols := strings.Split(tabColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// Filter selects tabs by attribute instead of text match.
type Filter struct {
	SessionID int64
	Category  string
	Starred   bool
}

// FilterTabs lists tabs matching the filter, newest first.
func FilterTabs(db *sql.DB, f Filter, limit int) ([]Tab, error) {
	if limit <= 0 {
		limit = 200
	}

	where := []string{"1=1"}
	var args []any
	if f.SessionID != 0 {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if f.Starred {
		where = append(where, "starred = 1")
	}
	args = append(args, limit)

	rows, err := db.Query(
		"SELECT "+tabColumns+" FROM tabs WHERE "+strings.Join(where, " AND ")+
			" ORDER BY id DESC LIMIT ?",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("filter tabs: %w", err)
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
