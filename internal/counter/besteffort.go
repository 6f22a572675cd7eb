package counter

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// BestEffort wraps a Counter so that transport failures never reach callers.
// A failed call logs and returns the last value seen, or zero counts.
type BestEffort struct {
	inner  Counter
	logger *zap.Logger

	mu   sync.Mutex
	last *Counts
}

func NewBestEffort(inner Counter, logger *zap.Logger) *BestEffort {
	return &BestEffort{inner: inner, logger: logger}
}

func (b *BestEffort) Get(ctx context.Context) (Counts, error) {
	counts, err := b.inner.Get(ctx)
	return b.settle("get", counts, err), nil
}

func (b *BestEffort) Increment(ctx context.Context, files, sizeBytes int64) (Counts, error) {
	counts, err := b.inner.Increment(ctx, files, sizeBytes)
	return b.settle("increment", counts, err), nil
}

func (b *BestEffort) Reset(ctx context.Context) (Counts, error) {
	counts, err := b.inner.Reset(ctx)
	return b.settle("reset", counts, err), nil
}

// Subscribe forwards to the wrapped counter when it supports push updates.
func (b *BestEffort) Subscribe(ctx context.Context, fn func(Counts)) (Subscription, error) {
	sub, ok := b.inner.(Subscriber)
	if !ok {
		return nil, ErrUnsupported
	}
	return sub.Subscribe(ctx, func(c Counts) {
		b.remember(c)
		fn(c)
	})
}

func (b *BestEffort) settle(op string, counts Counts, err error) Counts {
	if err != nil {
		b.logger.Warn("Counter update failed",
			zap.String("op", op),
			zap.Error(err),
		)
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.last != nil {
			return *b.last
		}
		return Zero()
	}
	b.remember(counts)
	return counts
}

func (b *BestEffort) remember(c Counts) {
	b.mu.Lock()
	b.last = &c
	b.mu.Unlock()
}
