// Package journal keeps an audit trail of provisioning runs in SQLite. It is
// write-mostly: nothing reads it back to decide what a run does.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultPath is where the journal lives on a provisioned host.
const DefaultPath = "/var/lib/sdrprov/journal.db"

// Run statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Action is one host mutation performed by a run.
type Action struct {
	Step   string
	Kind   string
	Detail string
}

// Run is a recorded provisioning run.
type Run struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	Host       string
	Error      string
	Actions    []Action
}

// ErrNotFound is returned by OpenReadOnly when no journal exists yet.
var ErrNotFound = errors.New("journal: not found")

// Store provides SQLite operations for the run journal.
type Store struct {
	db *sql.DB
}

// Open opens or creates the journal at path and ensures the schema.
// Use ":memory:" for an in-memory journal.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("journal: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA journal_mode = WAL"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenReadOnly opens an existing journal for reading. It creates no
// directories, files or schema.
func OpenReadOnly(path string) (*Store, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	} else if err != nil {
		return nil, fmt.Errorf("journal: stat %s: %w", path, err)
	}

	dsn := (&url.URL{Scheme: "file", Path: path, RawQuery: "mode=ro"}).String()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordRun stores r and its actions in one transaction and returns the run ID.
func (s *Store) RecordRun(ctx context.Context, r Run) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("journal: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (started_at, finished_at, status, host, error) VALUES (?, ?, ?, ?, ?)`,
		r.StartedAt.UTC().Format(time.RFC3339Nano),
		r.FinishedAt.UTC().Format(time.RFC3339Nano),
		r.Status,
		r.Host,
		r.Error,
	)
	if err != nil {
		return 0, fmt.Errorf("journal: insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("journal: run id: %w", err)
	}

	for i, a := range r.Actions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO actions (run_id, seq, step, kind, detail) VALUES (?, ?, ?, ?, ?)`,
			id, i, a.Step, a.Kind, a.Detail,
		); err != nil {
			return 0, fmt.Errorf("journal: insert action %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("journal: commit: %w", err)
	}
	return id, nil
}

// RecentRuns returns up to limit runs, newest first, with their actions.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, status, COALESCE(host, ''), COALESCE(error, '')
		 FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished string
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.Status, &r.Host, &r.Error); err != nil {
			return nil, fmt.Errorf("journal: scan run: %w", err)
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("journal: run %d started_at: %w", r.ID, err)
		}
		if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, fmt.Errorf("journal: run %d finished_at: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterate runs: %w", err)
	}
	rows.Close()

	for i := range runs {
		actions, err := s.actions(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Actions = actions
	}
	return runs, nil
}

func (s *Store) actions(ctx context.Context, runID int64) ([]Action, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step, kind, COALESCE(detail, '') FROM actions WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("journal: query actions: %w", err)
	}
	defer rows.Close()

	var out []Action
	for rows.Next() {
		var a Action
		if err := rows.Scan(&a.Step, &a.Kind, &a.Detail); err != nil {
			return nil, fmt.Errorf("journal: scan action: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
