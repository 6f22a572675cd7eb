package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"imgbatch/worker/admission"
	"imgbatch/worker/archive"
	"imgbatch/worker/batch"
	"imgbatch/worker/export"
	"imgbatch/worker/item"
	"imgbatch/worker/pool"
	"imgbatch/worker/repository"
	"imgbatch/worker/tracker"
	"imgbatch/worker/validation"
	"imgbatch/worker/workflow"
)

var ErrNoFiles = errors.New("no acceptable image files")

// History records finished runs.
type History interface {
	RecordRun(ctx context.Context, run repository.Run) error
}

type Options struct {
	MemoryBudget     int64
	MaxTotalSize     int64
	EstimateFactor   float64
	MaxConcurrent    int
	EvictCount       int
	WarningThreshold float64
	TaskTimeout      time.Duration
	SingleFileDirect bool
	CompressLevel    int
}

// Report is everything a caller needs to present one processed drop.
type Report struct {
	Result   *batch.Result
	Decision admission.Decision
	Rejected []validation.Rejection
	Location string
	Peak     tracker.Usage
}

// Processor runs drops of files through a workflow. The tracker and pool are
// shared by every drop it handles.
type Processor struct {
	opts     Options
	tracker  *tracker.Tracker
	pool     *pool.WorkerPool
	counter  batch.Counter
	exporter export.Exporter
	history  History
	logger   *zap.Logger
	observer func(item.View)
}

type Deps struct {
	Counter  batch.Counter
	Exporter export.Exporter
	History  History
	Logger   *zap.Logger
	Observer func(item.View)
}

func NewProcessor(opts Options, deps Deps) *Processor {
	if opts.EstimateFactor <= 0 {
		opts.EstimateFactor = admission.DefaultEstimateFactor
	}
	if opts.WarningThreshold <= 0 {
		opts.WarningThreshold = 0.8
	}
	if opts.CompressLevel == 0 {
		opts.CompressLevel = -1
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		opts:     opts,
		tracker:  tracker.New(opts.MemoryBudget, logger),
		pool:     pool.NewWorkerPool(opts.MaxConcurrent),
		counter:  deps.Counter,
		exporter: deps.Exporter,
		history:  deps.History,
		logger:   logger,
		observer: deps.Observer,
	}
}

func (p *Processor) Tracker() *tracker.Tracker { return p.tracker }

// Process validates files, admits them as one batch, runs wf and exports the
// artifact. Every buffer of the batch is released before it returns.
func (p *Processor) Process(ctx context.Context, wf workflow.Workflow, files []validation.File) (*Report, error) {
	report := &Report{}

	sources, rejected := validation.Filter(files)
	report.Rejected = rejected
	for _, r := range rejected {
		p.logger.Warn("File rejected", zap.String("file", r.Name), zap.Error(r.Err))
	}
	if len(sources) == 0 {
		return report, ErrNoFiles
	}

	b := batch.New(batch.Deps{
		Tracker:  p.tracker,
		Pool:     p.pool,
		Policy:   admission.Policy{MaxTotalSize: p.opts.MaxTotalSize, EstimateFactor: p.opts.EstimateFactor},
		Counter:  p.counter,
		Logger:   p.logger,
		Observer: p.observer,
	})
	defer b.Clear()

	_, decision, err := b.Admit(sources)
	if err != nil {
		return report, err
	}
	report.Decision = decision

	watchCtx, stopWatch := context.WithCancel(ctx)
	peak := make(chan tracker.Usage, 1)
	go p.monitor(watchCtx, peak)

	opts := wf.Options()
	opts.EvictCount = p.opts.EvictCount
	opts.TaskTimeout = p.opts.TaskTimeout
	opts.SingleFileDirect = p.opts.SingleFileDirect

	result, runErr := b.Run(ctx, wf, archive.NewZipSink(p.opts.CompressLevel), opts)
	stopWatch()
	report.Peak = <-peak
	report.Result = result

	if runErr != nil {
		var sinkErr *batch.SinkError
		if errors.As(runErr, &sinkErr) {
			p.record(ctx, wf, report)
		}
		return report, runErr
	}

	if result.Artifact != nil && p.exporter != nil {
		loc, err := p.exporter.Export(ctx, result.Artifact.Name, result.Artifact.Data)
		if err != nil {
			return report, fmt.Errorf("export artifact: %w", err)
		}
		report.Location = loc
	}

	p.record(ctx, wf, report)
	return report, nil
}

// monitor polls memory while a run is active and reports the peak.
func (p *Processor) monitor(ctx context.Context, peak chan<- tracker.Usage) {
	var highest tracker.Usage
	warned := false
	p.tracker.Watch(ctx, time.Second, func(u tracker.Usage) {
		if u.Used > highest.Used {
			highest = u
		}
		if u.AboveThreshold(p.opts.WarningThreshold) && !warned {
			warned = true
			p.logger.Warn("High memory usage",
				zap.Int64("used_bytes", u.Used),
				zap.Int64("budget_bytes", u.Budget),
				zap.Float64("percentage", u.Percentage),
			)
		}
	})
	if u := p.tracker.Usage(); u.Used > highest.Used {
		highest = u
	}
	peak <- highest
}

func (p *Processor) record(ctx context.Context, wf workflow.Workflow, report *Report) {
	if p.history == nil || report.Result == nil {
		return
	}
	res := report.Result
	run := repository.Run{
		ID:            res.BatchID,
		Workflow:      string(wf.Kind()),
		Completed:     res.Completed,
		Failed:        res.Failed,
		Skipped:       res.Skipped,
		OriginalBytes: res.TotalOriginalBytes,
		OutputBytes:   res.TotalOutputBytes,
		Artifact:      report.Location,
		StartedAt:     res.StartedAt,
		FinishedAt:    res.FinishedAt,
	}
	if err := p.history.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		p.logger.Warn("Failed to record batch run", zap.Error(err))
	}
}
