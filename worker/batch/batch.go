// Package batch coordinates runs over a collection of images: admission,
// bounded parallel transforms, progress, archive bundling and counting.
package batch

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"imgbatch/internal/counter"
	"imgbatch/worker/admission"
	"imgbatch/worker/item"
	"imgbatch/worker/pool"
	"imgbatch/worker/tracker"
)

// Output is what a transform produced. Format, when set, replaces the
// extension of the archive entry name.
type Output struct {
	Data   []byte
	Format string
}

type Transformer interface {
	Transform(ctx context.Context, src item.Source) (Output, error)
}

// TransformFunc adapts a function to Transformer.
type TransformFunc func(ctx context.Context, src item.Source) (Output, error)

func (f TransformFunc) Transform(ctx context.Context, src item.Source) (Output, error) {
	return f(ctx, src)
}

// Sink bundles named outputs into one artifact.
type Sink interface {
	Put(name string, data []byte) error
	Finalize() ([]byte, error)
}

// Counter receives batch totals. Failures are logged and ignored.
type Counter interface {
	Increment(ctx context.Context, files, sizeBytes int64) (counter.Counts, error)
}

type Deps struct {
	Tracker  *tracker.Tracker
	Pool     *pool.WorkerPool
	Policy   admission.Policy
	Counter  Counter
	Logger   *zap.Logger
	Observer func(item.View)
}

// Totals are derived from the items on every call.
type Totals struct {
	Items         int
	Pending       int
	Processing    int
	Completed     int
	Edited        int
	Failed        int
	OriginalBytes int64
	OutputBytes   int64
}

type Batch struct {
	id       string
	tracker  *tracker.Tracker
	pool     *pool.WorkerPool
	policy   admission.Policy
	counter  Counter
	logger   *zap.Logger
	observer func(item.View)

	mu      sync.Mutex
	items   []*item.Item
	index   map[string]*item.Item
	running bool
}

func New(d Deps) *Batch {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Batch{
		id:       id,
		tracker:  d.Tracker,
		pool:     d.Pool,
		policy:   d.Policy,
		counter:  d.Counter,
		logger:   logger.With(zap.String("batch_id", id)),
		observer: d.Observer,
		index:    make(map[string]*item.Item),
	}
}

func (b *Batch) ID() string { return b.id }

// Admit checks a drop of files against the admission policy and turns every
// accepted file into a pending item. A rejected drop creates nothing.
func (b *Batch) Admit(sources []item.Source) ([]*item.Item, admission.Decision, error) {
	b.mu.Lock()

	sizes := make([]int64, len(sources))
	for i, src := range sources {
		sizes[i] = src.Size
	}
	decision, err := b.policy.Check(sizes, b.originalBytesLocked())
	if err != nil {
		b.mu.Unlock()
		b.logger.Warn("Batch admission rejected",
			zap.Int("files", len(sources)),
			zap.Error(err),
		)
		return nil, admission.Decision{}, err
	}

	admitted := make([]*item.Item, 0, len(sources))
	for _, src := range sources {
		it := item.New(uuid.NewString(), src, b.tracker)
		b.items = append(b.items, it)
		b.index[it.ID()] = it
		admitted = append(admitted, it)
	}
	b.mu.Unlock()

	if decision.Warning != "" {
		b.logger.Warn(decision.Warning,
			zap.Int64("estimated_peak_bytes", decision.EstimatedPeak),
		)
	}
	b.logger.Info("Files admitted",
		zap.Int("files", len(admitted)),
		zap.Int64("bytes", decision.NewBytes),
	)
	for _, it := range admitted {
		b.notify(it)
	}
	return admitted, decision, nil
}

// Items returns the items in insertion order.
func (b *Batch) Items() []*item.Item {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]*item.Item, len(b.items))
	copy(cp, b.items)
	return cp
}

func (b *Batch) Item(id string) (*item.Item, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	it, ok := b.index[id]
	return it, ok
}

func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Edit applies a direct user edit to an item outside the run pipeline.
func (b *Batch) Edit(id string, src item.Source) error {
	it, ok := b.Item(id)
	if !ok {
		return ErrUnknownItem
	}
	if err := it.Edit(src); err != nil {
		return err
	}
	b.logger.Info("Item edited",
		zap.String("item_id", id),
		zap.Int64("bytes", src.Size),
	)
	b.notify(it)
	return nil
}

// Remove deletes an item and releases its buffers. A task still running for
// it settles against the detached item without effect.
func (b *Batch) Remove(id string) error {
	b.mu.Lock()
	it, ok := b.index[id]
	if !ok {
		b.mu.Unlock()
		return ErrUnknownItem
	}
	delete(b.index, id)
	for i, candidate := range b.items {
		if candidate == it {
			b.items = append(b.items[:i], b.items[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	it.Detach()
	b.logger.Debug("Item removed", zap.String("item_id", id))
	return nil
}

// Clear removes every item and returns how many were dropped.
func (b *Batch) Clear() int {
	b.mu.Lock()
	items := b.items
	b.items = nil
	b.index = make(map[string]*item.Item)
	b.mu.Unlock()

	for _, it := range items {
		it.Detach()
	}
	b.logger.Info("Batch cleared", zap.Int("items", len(items)))
	return len(items)
}

func (b *Batch) Totals() Totals {
	items := b.Items()
	t := Totals{Items: len(items)}
	for _, it := range items {
		v := it.View()
		t.OriginalBytes += v.OriginalSize
		t.OutputBytes += v.OutputSize
		switch v.Status {
		case item.StatusPending:
			t.Pending++
		case item.StatusProcessing:
			t.Processing++
		case item.StatusCompleted:
			t.Completed++
		case item.StatusEdited:
			t.Edited++
		case item.StatusError:
			t.Failed++
		}
	}
	return t
}

func (b *Batch) originalBytesLocked() int64 {
	var total int64
	for _, it := range b.items {
		total += it.Original().Size
	}
	return total
}

func (b *Batch) notify(it *item.Item) {
	if b.observer != nil {
		b.observer(it.View())
	}
}
