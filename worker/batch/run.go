package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"imgbatch/internal/counter"
	"imgbatch/worker/item"
	"imgbatch/worker/pool"
)

const (
	DefaultEvictCount     = 3
	DefaultEditedSuffix   = "_edited"
	defaultCounterTimeout = 5 * time.Second
)

type RunOptions struct {
	// NameSuffix is appended to the base name of every transformed output.
	NameSuffix string
	// EditedSuffix names edited items that are bundled without being re-run.
	EditedSuffix string
	ArchiveName  string
	// SingleFileDirect skips bundling when exactly one output exists.
	SingleFileDirect bool
	// Resubmit lists settled items to run again. Pending items always run.
	Resubmit []string
	// EvictCount is how many tracked buffers to drop when over budget.
	EvictCount int
	// TaskTimeout bounds each transform. Zero waits indefinitely.
	TaskTimeout    time.Duration
	CounterTimeout time.Duration
}

func (o RunOptions) withDefaults() RunOptions {
	if o.EvictCount <= 0 {
		o.EvictCount = DefaultEvictCount
	}
	if o.EditedSuffix == "" {
		o.EditedSuffix = DefaultEditedSuffix
	}
	if o.ArchiveName == "" {
		o.ArchiveName = "images.zip"
	}
	if o.CounterTimeout <= 0 {
		o.CounterTimeout = defaultCounterTimeout
	}
	return o
}

type ItemError struct {
	ItemID string
	Name   string
	Cause  string
}

// Artifact is the single downloadable result of a run.
type Artifact struct {
	Name    string
	Data    []byte
	Bundled bool
	Files   int
}

type Result struct {
	BatchID            string
	Completed          int
	Failed             int
	Skipped            int
	Errors             []ItemError
	ProcessedCount     int64
	TotalOriginalBytes int64
	TotalOutputBytes   int64
	Counts             counter.Counts
	Artifact           *Artifact
	StartedAt          time.Time
	FinishedAt         time.Time

	outputs          []namedOutput
	archiveName      string
	singleFileDirect bool
}

type namedOutput struct {
	name string
	data []byte
}

// Outputs lists the archive entry names in bundling order.
func (r *Result) Outputs() []string {
	names := make([]string, len(r.outputs))
	for i, o := range r.outputs {
		names[i] = o.name
	}
	return names
}

// Export hands the run's outputs to sink again. It lets a caller retry a
// failed bundle without repeating any transform.
func (r *Result) Export(sink Sink) (*Artifact, error) {
	if len(r.outputs) == 0 {
		return nil, nil
	}
	if r.singleFileDirect && len(r.outputs) == 1 {
		a := &Artifact{Name: r.outputs[0].name, Data: r.outputs[0].data, Files: 1}
		r.Artifact = a
		return a, nil
	}
	if sink == nil {
		return nil, nil
	}

	for _, o := range r.outputs {
		if err := sink.Put(o.name, o.data); err != nil {
			return nil, &SinkError{Op: "put", Err: err}
		}
	}
	data, err := sink.Finalize()
	if err != nil {
		return nil, &SinkError{Op: "finalize", Err: err}
	}
	a := &Artifact{Name: r.archiveName, Data: data, Bundled: true, Files: len(r.outputs)}
	r.Artifact = a
	return a, nil
}

type job struct {
	item       *item.Item
	restart    bool
	output     *Output
	failure    string
	detached   bool
	superseded bool // edited while the task was still queued
	future     *pool.Future[struct{}]
}

// Run processes every pending item (and any listed in opts.Resubmit) through
// tf with bounded parallelism, waits for all of them, reports totals to the
// counter and bundles the outputs into sink. Item failures are reported in
// the Result; only a sink failure is returned as an error.
func (b *Batch) Run(ctx context.Context, tf Transformer, sink Sink, opts RunOptions) (*Result, error) {
	opts = opts.withDefaults()

	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil, ErrRunInProgress
	}
	b.running = true
	snapshot := make([]*item.Item, len(b.items))
	copy(snapshot, b.items)
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	result := &Result{
		BatchID:          b.id,
		StartedAt:        time.Now().UTC(),
		archiveName:      opts.ArchiveName,
		singleFileDirect: opts.SingleFileDirect,
	}
	if len(snapshot) == 0 {
		result.FinishedAt = time.Now().UTC()
		return result, nil
	}

	resubmit := make(map[string]bool, len(opts.Resubmit))
	for _, id := range opts.Resubmit {
		resubmit[id] = true
	}

	jobs := make(map[*item.Item]*job)
	for _, it := range snapshot {
		status := it.Status()
		switch {
		case status == item.StatusPending:
			jobs[it] = &job{item: it}
		case resubmit[it.ID()] && status != item.StatusProcessing:
			jobs[it] = &job{item: it, restart: true}
		}
	}

	b.logger.Info("Batch run started",
		zap.Int("items", len(snapshot)),
		zap.Int("tasks", len(jobs)),
	)

	// submit in insertion order so queue admission follows the batch order
	for _, it := range snapshot {
		j, ok := jobs[it]
		if !ok {
			continue
		}
		j.future = pool.Submit(b.pool, ctx, func(ctx context.Context) (struct{}, error) {
			b.process(ctx, j, tf, opts)
			return struct{}{}, nil
		})
	}
	for _, it := range snapshot {
		if j, ok := jobs[it]; ok {
			_, _ = j.future.Wait(context.Background())
		}
	}

	names := newNamer()
	for _, it := range snapshot {
		j, ran := jobs[it]
		if ran && j.superseded {
			ran = false
		}
		switch {
		case ran && j.detached:
			result.Skipped++
		case ran && j.output != nil:
			result.Completed++
			result.outputs = append(result.outputs, namedOutput{
				name: names.reserve(it.Original().Name, opts.NameSuffix, j.output.Format),
				data: j.output.Data,
			})
		case ran:
			result.Failed++
			result.Errors = append(result.Errors, ItemError{
				ItemID: it.ID(),
				Name:   it.Original().Name,
				Cause:  j.failure,
			})
		case it.Status() == item.StatusEdited && !it.Detached():
			result.outputs = append(result.outputs, namedOutput{
				name: names.reserve(it.Original().Name, opts.EditedSuffix, ""),
				data: it.Input().Data,
			})
		}
	}

	for _, it := range b.Items() {
		v := it.View()
		result.TotalOriginalBytes += v.OriginalSize
		result.TotalOutputBytes += v.OutputSize
		if v.Status.HasOutput() {
			result.ProcessedCount++
		}
	}

	result.Counts = b.report(ctx, result, opts)

	_, err := result.Export(sink)
	result.FinishedAt = time.Now().UTC()

	fields := []zap.Field{
		zap.Int("completed", result.Completed),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
		zap.Duration("duration", result.FinishedAt.Sub(result.StartedAt)),
	}
	if err != nil {
		b.logger.Error("Batch bundling failed", append(fields, zap.Error(err))...)
		return result, err
	}
	b.logger.Info("Batch run finished", fields...)
	return result, nil
}

func (b *Batch) process(ctx context.Context, j *job, tf Transformer, opts RunOptions) {
	it := j.item
	log := b.logger.With(zap.String("item_id", it.ID()), zap.String("file", it.Original().Name))

	var err error
	if j.restart {
		err = it.Restart()
	} else {
		err = it.Start()
	}
	if errors.Is(err, item.ErrDetached) {
		j.detached = true
		log.Debug("Item left the batch before processing", zap.Error(err))
		return
	}
	if err != nil {
		j.superseded = true
		log.Debug("Item changed before processing, keeping its current state", zap.Error(err))
		return
	}
	b.notify(it)

	defer b.relieve(opts.EvictCount)

	tctx := ctx
	if opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, opts.TaskTimeout)
		defer cancel()
	}

	out, terr := tf.Transform(tctx, it.Input())
	if terr == nil && out.Data == nil {
		terr = errors.New("transform produced no output")
	}

	if terr != nil {
		j.failure = failureCause(terr, opts.TaskTimeout)
		if ferr := it.Fail(j.failure); errors.Is(ferr, item.ErrDetached) {
			j.detached = true
			return
		}
		log.Warn("Item failed", zap.Error(&TransformError{ItemID: it.ID(), Name: it.Original().Name, Err: terr}))
		b.notify(it)
		return
	}

	if cerr := it.Complete(out.Data); cerr != nil {
		j.detached = true
		log.Debug("Dropping output of removed item", zap.Error(cerr))
		return
	}
	j.output = &out
	log.Debug("Item completed", zap.Int("bytes", len(out.Data)))
	b.notify(it)
}

// relieve evicts the oldest tracked buffers when over budget.
func (b *Batch) relieve(n int) {
	if b.tracker.IsOverBudget() {
		released, freed := b.tracker.EvictOldest(n)
		b.logger.Info("Memory budget reached, evicted buffers",
			zap.Int("released", released),
			zap.Int64("freed_bytes", freed),
		)
	}
}

func (b *Batch) report(ctx context.Context, result *Result, opts RunOptions) counter.Counts {
	if b.counter == nil {
		return counter.Counts{}
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opts.CounterTimeout)
	defer cancel()

	counts, err := b.counter.Increment(cctx, result.ProcessedCount, result.TotalOriginalBytes)
	if err != nil {
		b.logger.Warn("Counter update failed", zap.Error(err))
		return counter.Counts{}
	}
	return counts
}

func failureCause(err error, timeout time.Duration) string {
	if errors.Is(err, context.DeadlineExceeded) && timeout > 0 {
		return fmt.Sprintf("timed out after %s", timeout)
	}
	return err.Error()
}
