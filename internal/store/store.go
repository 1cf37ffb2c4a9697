package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// FormatVersion identifies the on-disk layout. Databases written by a
// different version are rejected rather than misread.
const FormatVersion = "1"

// Store is the SQLite data access layer for the path database.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use in transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates the tables and indexes and stamps the format version.
// Idempotent, but fails on a database written with a different version.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	existing, err := s.GetMetadata("format_version")
	if err != nil {
		return err
	}
	if existing == "" {
		return s.SetMetadata("format_version", FormatVersion)
	}
	if existing != FormatVersion {
		return fmt.Errorf("database format version %s, want %s", existing, FormatVersion)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS files (
  id              INTEGER PRIMARY KEY,
  path            TEXT NOT NULL UNIQUE,
  hash            TEXT NOT NULL,
  graph           BLOB NOT NULL,
  analyzed_at     TIMESTAMP,
  last_indexed    TIMESTAMP
);

CREATE TABLE IF NOT EXISTS partial_paths (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
  start_node      TEXT NOT NULL,
  end_node        TEXT NOT NULL,
  symbol_pre      TEXT NOT NULL,
  symbol_post     TEXT NOT NULL,
  scope_pre       TEXT NOT NULL,
  scope_post      TEXT NOT NULL,
  edges           TEXT NOT NULL,
  length          INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS metadata (
  key             TEXT PRIMARY KEY,
  value           TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_partial_paths_file ON partial_paths(file_id);
CREATE INDEX IF NOT EXISTS idx_partial_paths_start ON partial_paths(start_node);
CREATE INDEX IF NOT EXISTS idx_partial_paths_end ON partial_paths(end_node);
`

// --- Metadata operations ---

func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get metadata: %w", err)
	}
	return value, nil
}

func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set metadata: %w", err)
	}
	return nil
}
