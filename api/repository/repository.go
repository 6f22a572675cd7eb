package repository

import (
	"context"
	"errors"

	"imgbatch/internal/counter"
)

var (
	ErrCounterMissing = errors.New("counter row missing")
	ErrNegativeDelta  = errors.New("increment must not be negative")
	ErrDuplicateEvent = errors.New("event already applied")
)

type Repository interface {
	Get(ctx context.Context) (counter.Counts, error)
	Increment(ctx context.Context, files, sizeBytes int64) (counter.Counts, error)
	Reset(ctx context.Context) (counter.Counts, error)
	// ApplyEvent increments once per event id.
	ApplyEvent(ctx context.Context, event counter.IncrementEvent) (counter.Counts, error)
}
