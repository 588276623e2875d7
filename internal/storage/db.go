// Package storage persists capture sessions and tabs in SQLite and keeps
// the full-text index in step with every row write.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// migration is a numbered schema change. Migrations are applied in order
// and tracked in the schema_migrations table so each runs exactly once.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "sessions and tabs",
		SQL: `
CREATE TABLE IF NOT EXISTS sessions (
    id           INTEGER PRIMARY KEY,
    window_title TEXT,
    hostname     TEXT NOT NULL DEFAULT '',
    captured_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    status       TEXT NOT NULL DEFAULT 'pending'
                 CHECK(status IN ('pending', 'triaged', 'archived'))
);
CREATE TABLE IF NOT EXISTS tabs (
    id                 INTEGER PRIMARY KEY,
    session_id         INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    url                TEXT NOT NULL,
    normalized_url     TEXT NOT NULL,
    title              TEXT NOT NULL DEFAULT '',
    content            BLOB,
    favicon            TEXT,
    summary            TEXT,
    suggested_category TEXT,
    tags               TEXT,
    category           TEXT,
    user_note          TEXT,
    starred            BOOLEAN NOT NULL DEFAULT 0,
    cluster_id         TEXT,
    cluster_label      TEXT,
    behavior           TEXT,
    captured_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    triaged_at         DATETIME,
    pending_close      BOOLEAN NOT NULL DEFAULT 0,
    pending_re_extract BOOLEAN NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_tabs_session ON tabs(session_id);
CREATE INDEX IF NOT EXISTS idx_tabs_norm_url ON tabs(normalized_url, captured_at);`,
	},
	{
		Version:     2,
		Description: "full-text index over title, summary, content",
		// The index is written by Go code inside the same transaction as
		// the tab row (content is stored compressed, so triggers cannot
		// derive the indexed text themselves).
		SQL: `CREATE VIRTUAL TABLE tabs_fts USING fts5(title, summary, content);`,
	},
	{
		Version:     3,
		Description: "queue indexes for the agent poll paths",
		SQL: `
CREATE INDEX IF NOT EXISTS idx_tabs_pending_close ON tabs(pending_close) WHERE pending_close = 1;
CREATE INDEX IF NOT EXISTS idx_tabs_pending_re_extract ON tabs(pending_re_extract) WHERE pending_re_extract = 1;`,
	},
}

// OpenDB opens (or creates) a SQLite database at the given path.
// It creates parent directories if needed, enables foreign keys and WAL
// mode, and runs any pending migrations.
func OpenDB(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// WAL keeps the capture endpoint fast while pipelines write.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version     INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if exists > 0 {
			continue
		}

		if _, err := db.Exec(m.SQL); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := db.Exec(
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}

	return nil
}
