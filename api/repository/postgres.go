package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"imgbatch/internal/counter"
)

type PostgresRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRepo(db *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const selectCounts = `SELECT total_files, total_size_bytes, last_updated FROM global_counter WHERE id = 1`

func (r *PostgresRepo) Get(ctx context.Context) (counter.Counts, error) {
	return scanCounts(r.db.QueryRow(ctx, selectCounts))
}

// Increment adds in a single statement so concurrent writers never lose updates.
func (r *PostgresRepo) Increment(ctx context.Context, files, sizeBytes int64) (counter.Counts, error) {
	if files < 0 || sizeBytes < 0 {
		return counter.Counts{}, ErrNegativeDelta
	}
	return increment(ctx, r.db, files, sizeBytes)
}

func (r *PostgresRepo) Reset(ctx context.Context) (counter.Counts, error) {
	query := `
		UPDATE global_counter
		SET total_files = 0, total_size_bytes = 0, last_updated = NOW()
		WHERE id = 1
		RETURNING total_files, total_size_bytes, last_updated
	`
	return scanCounts(r.db.QueryRow(ctx, query))
}

// ApplyEvent records the event id and increments in one transaction. A
// redelivered event returns ErrDuplicateEvent with the current counts.
func (r *PostgresRepo) ApplyEvent(ctx context.Context, event counter.IncrementEvent) (counter.Counts, error) {
	if event.FilesProcessed < 0 || event.TotalSizeBytes < 0 {
		return counter.Counts{}, ErrNegativeDelta
	}

	var counts counter.Counts
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO counter_events (event_id, source, files_processed, total_size_bytes, occurred_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (event_id) DO NOTHING
		`, event.EventID, event.Source, event.FilesProcessed, event.TotalSizeBytes, event.OccurredAt)
		if err != nil {
			return fmt.Errorf("record event: %w", err)
		}
		if tag.RowsAffected() == 0 {
			if counts, err = scanCounts(tx.QueryRow(ctx, selectCounts)); err != nil {
				return err
			}
			return ErrDuplicateEvent
		}
		counts, err = increment(ctx, tx, event.FilesProcessed, event.TotalSizeBytes)
		return err
	})
	return counts, err
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func increment(ctx context.Context, q querier, files, sizeBytes int64) (counter.Counts, error) {
	query := `
		UPDATE global_counter
		SET total_files = total_files + $1,
			total_size_bytes = total_size_bytes + $2,
			last_updated = NOW()
		WHERE id = 1
		RETURNING total_files, total_size_bytes, last_updated
	`
	return scanCounts(q.QueryRow(ctx, query, files, sizeBytes))
}

func scanCounts(row pgx.Row) (counter.Counts, error) {
	var c counter.Counts
	if err := row.Scan(&c.TotalFiles, &c.TotalSizeBytes, &c.LastUpdated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return counter.Counts{}, ErrCounterMissing
		}
		return counter.Counts{}, err
	}
	return c, nil
}
