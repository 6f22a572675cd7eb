// Package counter defines the shared "total files processed" contract used by
// the imgbatch CLI backends and the counterd service.
package counter

import (
	"context"
	"errors"
	"time"

	"github.com/dustin/go-humanize"
)

var ErrUnsupported = errors.New("operation not supported by counter backend")

// Counts is the persisted global tally. The JSON shape is shared with counterd.
type Counts struct {
	TotalFiles     int64     `json:"totalFiles"`
	TotalSizeBytes int64     `json:"totalSizeBytes"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

// Counter is implemented by every backend. Increment is additive and never
// overwrites the stored totals.
type Counter interface {
	Get(ctx context.Context) (Counts, error)
	Increment(ctx context.Context, files, sizeBytes int64) (Counts, error)
	Reset(ctx context.Context) (Counts, error)
}

// Subscriber is implemented by backends that can push updates.
type Subscriber interface {
	Subscribe(ctx context.Context, fn func(Counts)) (Subscription, error)
}

type Subscription interface {
	Unsubscribe() error
}

// Zero returns empty counts stamped with the current time.
func Zero() Counts {
	return Counts{LastUpdated: time.Now().UTC()}
}

// Add returns c with the given deltas applied.
func (c Counts) Add(files, sizeBytes int64) Counts {
	return Counts{
		TotalFiles:     c.TotalFiles + files,
		TotalSizeBytes: c.TotalSizeBytes + sizeBytes,
		LastUpdated:    time.Now().UTC(),
	}
}

func FormatSize(bytes int64) string {
	if bytes <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(bytes))
}

func FormatNumber(n int64) string {
	return humanize.Comma(n)
}

// Noop discards every update.
type Noop struct{}

func (Noop) Get(context.Context) (Counts, error) { return Zero(), nil }

func (Noop) Increment(context.Context, int64, int64) (Counts, error) { return Zero(), nil }

func (Noop) Reset(context.Context) (Counts, error) { return Zero(), nil }
