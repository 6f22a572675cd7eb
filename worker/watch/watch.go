// Package watch turns files dropped into a directory into batches.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

const lockName = ".imgbatch.lock"

var ErrAlreadyWatching = errors.New("directory is already being watched")

// DropFunc handles one settled group of new files, sorted by path.
type DropFunc func(ctx context.Context, paths []string)

type Watcher struct {
	dir      string
	debounce time.Duration
	onDrop   DropFunc
	ignore   func(path string) bool
	logger   *zap.Logger
	lock     *flock.Flock
}

type Options struct {
	Debounce time.Duration
	// Ignore filters out paths such as the output directory.
	Ignore func(path string) bool
}

func New(dir string, onDrop DropFunc, opts Options, logger *zap.Logger) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	return &Watcher{
		dir:      dir,
		debounce: opts.Debounce,
		onDrop:   onDrop,
		ignore:   opts.Ignore,
		logger:   logger,
		lock:     flock.New(filepath.Join(dir, lockName)),
	}
}

// Run blocks until ctx is done. Drops are handled one at a time, files that
// arrive meanwhile are collected into the next drop.
func (w *Watcher) Run(ctx context.Context) error {
	locked, err := w.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire watch lock: %w", err)
	}
	if !locked {
		return ErrAlreadyWatching
	}
	defer func() {
		_ = w.lock.Unlock()
		_ = os.Remove(w.lock.Path())
	}()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("Watching for dropped files",
		zap.String("dir", w.dir),
		zap.Duration("debounce", w.debounce),
	)

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if w.skip(event.Name) {
				continue
			}
			pending[event.Name] = struct{}{}
			timer.Reset(w.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", zap.Error(err))

		case <-timer.C:
			paths := settle(pending)
			pending = make(map[string]struct{})
			if len(paths) == 0 {
				continue
			}
			w.logger.Info("Files dropped", zap.Int("files", len(paths)))
			w.onDrop(ctx, paths)
		}
	}
}

func (w *Watcher) skip(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true
	}
	return w.ignore != nil && w.ignore(path)
}

// settle keeps the regular files that still exist.
func settle(pending map[string]struct{}) []string {
	paths := make([]string, 0, len(pending))
	for p := range pending {
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
