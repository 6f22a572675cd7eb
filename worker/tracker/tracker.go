// Package tracker accounts for transient image buffers against a memory budget.
//
// Buffers are registered with Acquire and exposed through revocable handles.
// The budget is advisory: Acquire never fails, callers relieve pressure with
// EvictOldest when IsOverBudget reports true.
package tracker

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handle references a tracked buffer. The zero Handle is never live.
type Handle struct {
	id uint64
}

func (h Handle) IsZero() bool { return h.id == 0 }

// Usage is a point-in-time snapshot of tracked memory.
type Usage struct {
	Used       int64
	Budget     int64
	Live       int
	Percentage float64
}

// AboveThreshold reports whether usage is at or past the given fraction of the budget.
func (u Usage) AboveThreshold(fraction float64) bool {
	return u.Percentage >= fraction*100
}

type entry struct {
	id   uint64
	data []byte
	size int64
	elem *list.Element
}

type Tracker struct {
	mu     sync.Mutex
	budget int64
	used   int64
	nextID uint64
	live   map[uint64]*entry
	order  *list.List
	logger *zap.Logger
}

func New(budget int64, logger *zap.Logger) *Tracker {
	return &Tracker{
		budget: budget,
		live:   make(map[uint64]*entry),
		order:  list.New(),
		logger: logger,
	}
}

// Acquire registers data and returns a handle to it.
func (t *Tracker) Acquire(data []byte) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	e := &entry{id: t.nextID, data: data, size: int64(len(data))}
	e.elem = t.order.PushBack(e)
	t.live[e.id] = e
	t.used += e.size

	return Handle{id: e.id}
}

// Release drops the handle. Unknown or already released handles are ignored
// and report false.
func (t *Tracker) Release(h Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.releaseLocked(h.id)
}

func (t *Tracker) releaseLocked(id uint64) bool {
	e, ok := t.live[id]
	if !ok {
		return false
	}
	t.order.Remove(e.elem)
	delete(t.live, id)
	t.used -= e.size
	e.data = nil
	return true
}

// ReleaseAll drops every live handle and returns how many were released.
func (t *Tracker) ReleaseAll() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.live)
	for id := range t.live {
		t.releaseLocked(id)
	}
	t.order.Init()
	t.used = 0
	return n
}

// Bytes returns the buffer behind h while it is live.
func (t *Tracker) Bytes(h Handle) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.live[h.id]
	if !ok {
		return nil, false
	}
	return e.data, true
}

func (t *Tracker) IsLive(h Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.live[h.id]
	return ok
}

func (t *Tracker) Usage() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()

	u := Usage{Used: t.used, Budget: t.budget, Live: len(t.live)}
	if t.budget > 0 {
		u.Percentage = float64(t.used) / float64(t.budget) * 100
	}
	return u
}

func (t *Tracker) IsOverBudget() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used >= t.budget
}

// EvictOldest releases up to n live handles in creation order, whoever owns them.
func (t *Tracker) EvictOldest(n int) (int, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	released := 0
	var freed int64
	for released < n {
		front := t.order.Front()
		if front == nil {
			break
		}
		e := front.Value.(*entry)
		freed += e.size
		t.releaseLocked(e.id)
		released++
	}

	if released > 0 {
		t.logger.Debug("Evicted tracked buffers",
			zap.Int("count", released),
			zap.Int64("freed_bytes", freed),
			zap.Int64("used_bytes", t.used),
		)
	}
	return released, freed
}

// Watch calls fn with a usage snapshot every interval until ctx is done.
func (t *Tracker) Watch(ctx context.Context, every time.Duration, fn func(Usage)) {
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(t.Usage())
		}
	}
}
