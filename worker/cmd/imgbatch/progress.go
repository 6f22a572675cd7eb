package main

import (
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"

	"imgbatch/worker/item"
)

// progress advances a bar once per item that reaches a final status. It is a
// no-op when w is not a terminal.
type progress struct {
	mu   sync.Mutex
	bar  *progressbar.ProgressBar
	seen map[string]bool
}

func newProgress(w io.Writer, total int) *progress {
	p := &progress{seen: make(map[string]bool)}
	if total > 0 && isTerminal(w) {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription("Processing"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}
	return p
}

func (p *progress) observe(v item.View) {
	if p.bar == nil {
		return
	}
	final := v.Status == item.StatusCompleted || v.Status == item.StatusError
	if !final {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen[v.ID] {
		return
	}
	p.seen[v.ID] = true
	_ = p.bar.Add(1)
}

func (p *progress) finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}
