// Package repository persists the local counter and batch run history in SQLite.
package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"imgbatch/internal/counter"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

var ErrNotFound = errors.New("record not found")

// fixed width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// goose keeps its settings in package globals.
var migrateMu sync.Mutex

// Run is the persisted summary of one batch run.
type Run struct {
	ID            string
	Workflow      string
	Completed     int
	Failed        int
	Skipped       int
	OriginalBytes int64
	OutputBytes   int64
	Artifact      string
	StartedAt     time.Time
	FinishedAt    time.Time
}

func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

type SQLiteRepo struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// Open connects to the database at path, creating it and applying migrations
// as needed.
func Open(ctx context.Context, path string, logger *zap.Logger) (*SQLiteRepo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer keeps additive updates serialized
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Debug("Opened local database", zap.String("path", path))
	return &SQLiteRepo{db: db, path: path, logger: logger}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrationFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (r *SQLiteRepo) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *SQLiteRepo) Path() string { return r.path }

func (r *SQLiteRepo) Get(ctx context.Context) (counter.Counts, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT total_files, total_size_bytes, last_updated FROM counter WHERE id = 1`)
	return scanCounts(row)
}

// Increment adds to the stored totals in a single statement.
func (r *SQLiteRepo) Increment(ctx context.Context, files, sizeBytes int64) (counter.Counts, error) {
	if files < 0 || sizeBytes < 0 {
		return counter.Counts{}, fmt.Errorf("negative increment: files=%d bytes=%d", files, sizeBytes)
	}
	row := r.db.QueryRowContext(ctx,
		`UPDATE counter
            SET total_files = total_files + ?,
                total_size_bytes = total_size_bytes + ?,
                last_updated = ?
          WHERE id = 1
      RETURNING total_files, total_size_bytes, last_updated`,
		files, sizeBytes, timestamp(time.Now()),
	)
	counts, err := scanCounts(row)
	if err != nil {
		return counter.Counts{}, fmt.Errorf("increment counter: %w", err)
	}
	return counts, nil
}

func (r *SQLiteRepo) Reset(ctx context.Context) (counter.Counts, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE counter
            SET total_files = 0, total_size_bytes = 0, last_updated = ?
          WHERE id = 1
      RETURNING total_files, total_size_bytes, last_updated`,
		timestamp(time.Now()),
	)
	counts, err := scanCounts(row)
	if err != nil {
		return counter.Counts{}, fmt.Errorf("reset counter: %w", err)
	}
	r.logger.Info("Local counter reset")
	return counts, nil
}

func (r *SQLiteRepo) RecordRun(ctx context.Context, run Run) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO batch_runs (
            id, workflow, completed, failed, skipped,
            original_bytes, output_bytes, artifact, started_at, finished_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Workflow, run.Completed, run.Failed, run.Skipped,
		run.OriginalBytes, run.OutputBytes, nullableString(run.Artifact),
		timestamp(run.StartedAt), timestamp(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert batch run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (r *SQLiteRepo) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, workflow, completed, failed, skipped, original_bytes, output_bytes,
                artifact, started_at, finished_at
           FROM batch_runs
          ORDER BY started_at DESC
          LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list batch runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *SQLiteRepo) GetRun(ctx context.Context, id string) (Run, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, workflow, completed, failed, skipped, original_bytes, output_bytes,
                artifact, started_at, finished_at
           FROM batch_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return run, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCounts(s scanner) (counter.Counts, error) {
	var (
		c       counter.Counts
		updated string
	)
	if err := s.Scan(&c.TotalFiles, &c.TotalSizeBytes, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return counter.Counts{}, ErrNotFound
		}
		return counter.Counts{}, err
	}
	c.LastUpdated = parseTime(updated)
	return c, nil
}

func scanRun(s scanner) (Run, error) {
	var (
		run               Run
		artifact          sql.NullString
		started, finished string
	)
	err := s.Scan(&run.ID, &run.Workflow, &run.Completed, &run.Failed, &run.Skipped,
		&run.OriginalBytes, &run.OutputBytes, &artifact, &started, &finished)
	if err != nil {
		return Run{}, err
	}
	run.Artifact = artifact.String
	run.StartedAt = parseTime(started)
	run.FinishedAt = parseTime(finished)
	return run, nil
}

func timestamp(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
