// Package meta tracks indexing history in SQLite: which files were indexed
// when, and small key/value state for the engine. Incremental indexing
// consults it to skip files unchanged since their last indexing.
package meta

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// FileRecord is one indexed file's history row.
type FileRecord struct {
	Path      string
	ModTime   time.Time
	IndexedAt time.Time
}

// Store is the SQLite-backed metadata store.
type Store struct {
	db *sql.DB
}

// Open creates or opens the metadata database at path. WAL mode keeps
// readers unblocked during writes; busy_timeout absorbs lock contention.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create metadata directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	schema := `
CREATE TABLE IF NOT EXISTS indexed_files (
	path       TEXT PRIMARY KEY,
	mod_time   INTEGER NOT NULL,
	indexed_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create metadata schema: %w", err)
	}

	return &Store{db: db}, nil
}

// RecordIndexed upserts the file's history row.
func (s *Store) RecordIndexed(path string, modTime time.Time) error {
	_, err := s.db.Exec(`
INSERT INTO indexed_files (path, mod_time, indexed_at) VALUES (?, ?, ?)
ON CONFLICT(path) DO UPDATE SET mod_time = excluded.mod_time, indexed_at = excluded.indexed_at`,
		path, modTime.UnixNano(), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("record indexed file %s: %w", path, err)
	}
	return nil
}

// LastIndexed returns the file's history row, or ok=false when the file
// was never indexed.
func (s *Store) LastIndexed(path string) (FileRecord, bool, error) {
	var modNanos, indexedNanos int64
	err := s.db.QueryRow(
		`SELECT mod_time, indexed_at FROM indexed_files WHERE path = ?`, path).
		Scan(&modNanos, &indexedNanos)
	if errors.Is(err, sql.ErrNoRows) {
		return FileRecord{}, false, nil
	}
	if err != nil {
		return FileRecord{}, false, fmt.Errorf("query indexed file %s: %w", path, err)
	}
	return FileRecord{
		Path:      path,
		ModTime:   time.Unix(0, modNanos),
		IndexedAt: time.Unix(0, indexedNanos),
	}, true, nil
}

// ShouldIndex reports whether a file with the given modification time
// needs (re-)indexing: never seen, or modified since last indexing.
func (s *Store) ShouldIndex(path string, modTime time.Time) (bool, error) {
	rec, ok, err := s.LastIndexed(path)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return modTime.After(rec.ModTime), nil
}

// Forget removes the file's history row.
func (s *Store) Forget(path string) error {
	if _, err := s.db.Exec(`DELETE FROM indexed_files WHERE path = ?`, path); err != nil {
		return fmt.Errorf("forget file %s: %w", path, err)
	}
	return nil
}

// IndexedPaths returns every recorded path.
func (s *Store) IndexedPaths() ([]string, error) {
	rows, err := s.db.Query(`SELECT path FROM indexed_files ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("list indexed files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan indexed file row: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// SetState stores a key/value state entry.
func (s *Store) SetState(key, value string) error {
	_, err := s.db.Exec(`
INSERT INTO state (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

// GetState returns a state entry, or ok=false when unset.
func (s *Store) GetState(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get state %s: %w", key, err)
	}
	return value, true, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
