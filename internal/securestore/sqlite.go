package securestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS secure_items (
  k TEXT PRIMARY KEY,
  v TEXT NOT NULL
);
`,
}

// SQLiteStore is a file-backed Store. The database file is created with
// 0600 permissions in a directory private to the running user.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the local secure store at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create secure store dir: %w", err)
	}

	// Pre-create the file so the 0600 mode applies before sqlite touches it.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create secure store file: %w", err)
	}
	_ = f.Close()

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open secure store: %w", err)
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate secure store: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT v FROM secure_items WHERE k = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("secure store get: %w", err)
	}
	return value, true, nil
}

// Set implements Store.
func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO secure_items (k, v) VALUES (?, ?)
        ON CONFLICT (k) DO UPDATE SET v = excluded.v`, key, value)
	if err != nil {
		return fmt.Errorf("secure store set: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
