// Package store persists pipeline runs, the knowledge corpus, and the human
// review queue in a single SQLite database.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.RunStore, domain.CorpusStore and
// domain.ReviewStore on one database handle.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		key    TEXT PRIMARY KEY,
		value  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS knowledge_docs (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		title       TEXT NOT NULL,
		content     TEXT NOT NULL,
		doc_type    TEXT,
		category    TEXT,
		source_file TEXT,
		metadata    TEXT,
		embedding   TEXT NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_docs_category ON knowledge_docs(category);

	CREATE TABLE IF NOT EXISTS runs (
		id            TEXT PRIMARY KEY,
		platform      TEXT NOT NULL,
		message_id    TEXT NOT NULL,
		state         TEXT NOT NULL,
		payload       TEXT NOT NULL,
		started_at    DATETIME NOT NULL,
		completed_at  DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	CREATE TABLE IF NOT EXISTS run_stages (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		stage       TEXT NOT NULL,
		capability  TEXT,
		input       TEXT,
		output      TEXT,
		created_at  DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_stages_run ON run_stages(run_id, id);

	CREATE TABLE IF NOT EXISTS reviews (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id      TEXT NOT NULL,
		message_id  TEXT NOT NULL,
		platform    TEXT NOT NULL,
		chat_id     TEXT,
		reply_text  TEXT,
		status      TEXT NOT NULL DEFAULT 'pending',
		reviewed_by TEXT,
		action      TEXT,
		final_text  TEXT,
		notes       TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		reviewed_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_reviews_status ON reviews(status, created_at);

	CREATE TABLE IF NOT EXISTS seen_messages (
		platform    TEXT NOT NULL,
		message_id  TEXT NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (platform, message_id)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
