// Package history keeps a sqlite-backed audit log of every dispatched
// command: who asked for what, when, and how it ended. Recording is
// best-effort; a write failure never fails the dispatch itself.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// atLayout is RFC3339 with a fixed-width fraction, so that the stored text
// sorts chronologically.
const atLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one recorded dispatch outcome.
type Entry struct {
	ID       string    `json:"id"`
	Endpoint string    `json:"endpoint"`
	Method   string    `json:"method"`
	Status   string    `json:"status"`
	Code     string    `json:"code,omitempty"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// Store wraps the sqlite handle. Single connection: simpler and stable for
// sqlite under concurrent writers.
type Store struct {
	db *sql.DB
}

// Open creates (or opens) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir history dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS dispatches (
  id TEXT PRIMARY KEY,
  endpoint TEXT NOT NULL,
  method TEXT NOT NULL,
  status TEXT NOT NULL,
  code TEXT,
  message TEXT NOT NULL,
  at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_dispatches_at ON dispatches(at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate history: %w", err)
		}
	}
	return nil
}

// Record inserts one dispatch outcome. The id is generated here.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	var code *string
	if e.Code != "" {
		code = &e.Code
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO dispatches (id, endpoint, method, status, code, message, at)
VALUES (?,?,?,?,?,?,?)
`, e.ID, e.Endpoint, e.Method, e.Status, code, e.Message, e.At.UTC().Format(atLayout))
	return err
}

// Recent returns the latest n entries, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		n = 50
	}
	if n > 500 {
		n = 500
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, endpoint, method, status, code, message, at
FROM dispatches
ORDER BY at DESC
LIMIT ?
`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e    Entry
			code sql.NullString
			at   string
		)
		if err := rows.Scan(&e.ID, &e.Endpoint, &e.Method, &e.Status, &code, &e.Message, &at); err != nil {
			return nil, err
		}
		if code.Valid {
			e.Code = code.String
		}
		e.At, _ = time.Parse(atLayout, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
