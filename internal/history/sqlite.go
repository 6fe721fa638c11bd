// Package history persists run summaries to a local sqlite database so
// operators can compare a fresh deployment against previous runs.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/david-crosby/macmocker/internal/result"
)

// Options configures the store.
type Options struct {
	// RunRetention is how many run records to keep per suite. Zero applies
	// the default of 50.
	RunRetention int
}

// Store wraps sqlite persistence for run records.
type Store struct {
	db       *sql.DB
	runLimit int
}

// RunRecord is one persisted run summary.
type RunRecord struct {
	ID           int64
	Suite        string
	Total        int
	Passed       int
	Failed       int
	Errors       int
	TimedOut     int
	Skipped      int
	Aborted      bool
	StartedAt    time.Time
	EndedAt      time.Time
	ArtifactsDir string
}

// Open initialises a sqlite store with WAL enabled and the required schema.
func Open(path string, opts Options) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history database path is required")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	if err := configureSQLite(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	limit := opts.RunRetention
	if limit <= 0 {
		limit = 50
	}

	store := &Store{db: db, runLimit: limit}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func configureSQLite(db *sql.DB) error {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			suite TEXT NOT NULL,
			total INTEGER NOT NULL,
			passed INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			errors INTEGER NOT NULL,
			timed_out INTEGER NOT NULL,
			skipped INTEGER NOT NULL,
			aborted INTEGER NOT NULL,
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP NOT NULL,
			artifacts_dir TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_suite ON runs (suite, started_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// RecordRun persists a run summary and enforces per-suite retention.
func (s *Store) RecordRun(ctx context.Context, rr *result.RunResult) error {
	if s == nil || s.db == nil {
		return nil
	}
	summary := rr.Summary()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (suite, total, passed, failed, errors, timed_out, skipped, aborted, started_at, ended_at, artifacts_dir)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rr.SuiteName, summary.Total, summary.Passed, summary.Failed, summary.Errors, summary.TimedOut, summary.Skipped,
		boolToInt(rr.Aborted), rr.RunStartedAt.UTC(), rr.RunEndedAt.UTC(), rr.ArtifactsDir)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM runs
		WHERE suite = ? AND id NOT IN (
			SELECT id FROM runs
			WHERE suite = ?
			ORDER BY id DESC
			LIMIT ?
		)
	`, rr.SuiteName, rr.SuiteName, s.runLimit)
	if err != nil {
		return fmt.Errorf("prune runs: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// RecentRuns returns the most recent run records, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("history store is not open")
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, suite, total, passed, failed, errors, timed_out, skipped, aborted, started_at, ended_at, artifacts_dir
		FROM runs
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		var aborted int
		if err := rows.Scan(&rec.ID, &rec.Suite, &rec.Total, &rec.Passed, &rec.Failed, &rec.Errors, &rec.TimedOut,
			&rec.Skipped, &aborted, &rec.StartedAt, &rec.EndedAt, &rec.ArtifactsDir); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rec.Aborted = aborted != 0
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return records, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
