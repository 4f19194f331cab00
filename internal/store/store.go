package store

import (
	"database/sql"
	"fmt"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
)

// SchemaVersion is bumped whenever the persisted CIX shape changes. A
// database written by another version is emptied on Migrate.
const SchemaVersion = 3

// Store is the SQLite persistence layer of the scan database.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates the tables and indexes. Idempotent. Blobs persisted under
// a different schema version are discarded.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}

	var stored string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&stored)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("store: read schema version: %w", err)
	}
	want := strconv.Itoa(SchemaVersion)
	if stored == want {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()
	if stored != "" {
		if _, err := tx.Exec("DELETE FROM blobs"); err != nil {
			return fmt.Errorf("store: discard stale blobs: %w", err)
		}
	}
	if _, err := tx.Exec(
		"INSERT INTO metadata (key, value) VALUES ('schema_version', ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		want,
	); err != nil {
		return fmt.Errorf("store: write schema version: %w", err)
	}
	return tx.Commit()
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS metadata (
  key             TEXT PRIMARY KEY,
  value           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS blobs (
  path            TEXT PRIMARY KEY,
  language        TEXT NOT NULL,
  module          TEXT,
  signature       TEXT NOT NULL,
  cix             BLOB NOT NULL,
  scanned_at      TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_blobs_language_module ON blobs(language, module);
`
