// Package database keeps download cache state in a SQLite file.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DBPath returns the default cache database location inside dataDir.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, "isd-lite-cache.db")
}

// EnsureSchema creates the cache tables if they do not exist yet.
func EnsureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cache_entries (
			path TEXT PRIMARY KEY,
			etag TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("creating cache_entries table: %w", err)
	}
	return nil
}

// ValidatorStore records the ETag each local file was downloaded under.
// It is safe for concurrent use.
type ValidatorStore struct {
	db *sql.DB
}

// OpenValidatorStore opens (creating if needed) the cache database at path.
func OpenValidatorStore(path string) (*ValidatorStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection serializes writers from the download workers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting %q: %w", pragma, err)
		}
	}

	if err := EnsureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &ValidatorStore{db: db}, nil
}

// Get returns the token recorded for dest.
func (s *ValidatorStore) Get(dest string) (string, bool, error) {
	var etag string
	err := s.db.QueryRow("SELECT etag FROM cache_entries WHERE path = ?", key(dest)).Scan(&etag)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("looking up validator for %s: %w", dest, err)
	}
	return etag, true, nil
}

// Put records token for dest, replacing any previous value.
func (s *ValidatorStore) Put(dest, token string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO cache_entries (path, etag, updated_at) VALUES (?, ?, ?)",
		key(dest), token, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("recording validator for %s: %w", dest, err)
	}
	return nil
}

// Delete forgets dest.
func (s *ValidatorStore) Delete(dest string) error {
	_, err := s.db.Exec("DELETE FROM cache_entries WHERE path = ?", key(dest))
	return err
}

// Prune forgets every entry whose file no longer exists and returns how many
// were removed.
func (s *ValidatorStore) Prune() (int, error) {
	rows, err := s.db.Query("SELECT path FROM cache_entries")
	if err != nil {
		return 0, fmt.Errorf("listing cache entries: %w", err)
	}
	var stale []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning cache entry: %w", err)
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			stale = append(stale, path)
		}
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, path := range stale {
		if err := s.Delete(path); err != nil {
			return 0, fmt.Errorf("forgetting %s: %w", path, err)
		}
	}
	return len(stale), nil
}

// Len returns the number of recorded entries.
func (s *ValidatorStore) Len() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM cache_entries").Scan(&n)
	return n, err
}

// Close closes the underlying database.
func (s *ValidatorStore) Close() error {
	return s.db.Close()
}

func key(dest string) string {
	if abs, err := filepath.Abs(dest); err == nil {
		return abs
	}
	return filepath.Clean(dest)
}
