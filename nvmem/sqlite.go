// Licensed under the Apache-2.0 license

package nvmem

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the region in an SQLite database with synchronous=FULL,
// so a committed write survives power loss.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("nvmem database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create nvmem directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open nvmem database: %w", err)
	}
	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	const schema = `CREATE TABLE IF NOT EXISTS nvmem (
		idx   INTEGER PRIMARY KEY,
		value INTEGER NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create nvmem table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// ReadWord reads one word. Words never written read as zero.
func (s *SQLiteStore) ReadWord(index int) (uint32, error) {
	if err := checkIndex(index); err != nil {
		return 0, err
	}
	var v int64
	err := s.db.QueryRow(`SELECT value FROM nvmem WHERE idx = ?`, index).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read word %d: %w", index, err)
	}
	if v < 0 || v > 0xffffffff {
		return 0, fmt.Errorf("%w: word %d holds %d", ErrCorrupt, index, v)
	}
	return uint32(v), nil
}

// WriteWord durably writes one word
func (s *SQLiteStore) WriteWord(index int, value uint32) error {
	if err := checkIndex(index); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT INTO nvmem (idx, value) VALUES (?, ?)
		ON CONFLICT(idx) DO UPDATE SET value = excluded.value`, index, int64(value))
	if err != nil {
		return fmt.Errorf("write word %d: %w", index, err)
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
