package store

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// user_version history:
//
//	0: variant_keys + artifacts
//	1: idx_artifacts_slice
const currentSchemaVersion = 1

// Store is the key-mapping database (keys.db) of one cache directory.
type Store struct {
	db *sql.DB
}

// Open opens or creates keys.db at path and brings its schema up to date.
// WAL lets Inspect and Verify read while another process saves.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open key store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect key store %s: %w", path, err)
	}

	// One connection: pragmas are per-connection and saves are serialised anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, step := range []func(*sql.DB) error{applyPragmas, applySchema} {
		if err := step(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("init key store %s: %w", path, err)
		}
	}
	return &Store{db: db}, nil
}

// Close releases the database. Closing twice is harmless.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if version < 1 {
		// Pruning deletes artifacts by slice.
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_artifacts_slice ON artifacts(slice_id)`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("write user_version: %w", err)
	}
	return nil
}

// verifyPragma is a test hook comparing a pragma against its expected value.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, want %q", name, value, expected)
	}
	return nil
}
