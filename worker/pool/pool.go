package pool

import (
	"context"
	"fmt"
	"sync"
)

// Status describes the pool at a point in time.
type Status struct {
	Queued        int
	Running       int
	MaxConcurrent int
}

// WorkerPool runs submitted tasks in submission order with at most
// maxWorkers running at once. Queued tasks are never dropped.
type WorkerPool struct {
	mu      sync.Mutex
	max     int
	running int
	queue   []*job
	wg      sync.WaitGroup
}

type job struct {
	run     func()
	started chan struct{}
}

func NewWorkerPool(maxWorkers int) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &WorkerPool{max: maxWorkers}
}

// Future is the pending result of a submitted task.
type Future[T any] struct {
	started chan struct{}
	done    chan struct{}
	value   T
	err     error
}

// Started is closed when the task is promoted to running.
func (f *Future[T]) Started() <-chan struct{} { return f.started }

// Done is closed when the task has settled.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the task settles and returns its own result. ctx only
// bounds the wait; the task keeps running if ctx ends first.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Submit enqueues task on p. The task receives ctx unchanged; the pool never
// cancels it.
func Submit[T any](p *WorkerPool, ctx context.Context, task func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}

	j := &job{started: f.started}
	j.run = func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		f.value, f.err = task(ctx)
	}

	p.mu.Lock()
	p.wg.Add(1)
	p.queue = append(p.queue, j)
	p.promoteLocked()
	p.mu.Unlock()

	return f
}

// promoteLocked starts queued jobs in FIFO order while slots are free.
func (p *WorkerPool) promoteLocked() {
	for p.running < p.max && len(p.queue) > 0 {
		j := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.running++
		close(j.started)
		go p.execute(j)
	}
}

func (p *WorkerPool) execute(j *job) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		p.running--
		p.promoteLocked()
		p.mu.Unlock()
	}()
	j.run()
}

func (p *WorkerPool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{Queued: len(p.queue), Running: p.running, MaxConcurrent: p.max}
}

// Wait blocks until every submitted task has settled.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}
