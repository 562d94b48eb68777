package media

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher keeps linked directories in sync: when files appear under a linked
// root, the root is imported again. Deduplication makes that idempotent.
type Watcher struct {
	importer *Importer
	queue    *ImportQueue
	debounce time.Duration
	logger   zerolog.Logger

	fsw    *fsnotify.Watcher
	mu     sync.Mutex
	roots  map[string]*OSDir
	timers map[string]*time.Timer
}

func NewWatcher(importer *Importer, queue *ImportQueue, debounce time.Duration, logger zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		importer: importer,
		queue:    queue,
		debounce: debounce,
		logger:   logger,
		fsw:      fsw,
		roots:    make(map[string]*OSDir),
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Link starts watching root and every directory below it.
func (w *Watcher) Link(root *OSDir) error {
	w.mu.Lock()
	w.roots[root.Path()] = root
	w.mu.Unlock()

	return filepath.WalkDir(root.Path(), func(path string, d os.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("cannot watch path")
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("cannot watch directory")
		}
		return nil
	})
}

// Run processes file system events until ctx ends.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			return
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("watch error")
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Write) {
				continue
			}
			if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
				if err := w.fsw.Add(ev.Name); err != nil {
					w.logger.Warn().Err(err).Str("path", ev.Name).Msg("cannot watch directory")
				}
			} else if !IsSupportedVideo(ev.Name) {
				continue
			}
			if root := w.rootOf(ev.Name); root != nil {
				w.schedule(root)
			}
		}
	}
}

func (w *Watcher) rootOf(path string) *OSDir {
	w.mu.Lock()
	defer w.mu.Unlock()

	var best *OSDir
	for p, root := range w.roots {
		if path == p || strings.HasPrefix(path, p+string(filepath.Separator)) {
			if best == nil || len(p) > len(best.Path()) {
				best = root
			}
		}
	}
	return best
}

func (w *Watcher) schedule(root *OSDir) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[root.Path()]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[root.Path()] = time.AfterFunc(w.debounce, func() { w.fire(root) })
}

func (w *Watcher) fire(root *OSDir) {
	_, started := w.queue.Start("relink "+root.Path(), func(ctx context.Context) (*ImportResult, error) {
		return w.importer.ImportDirectory(ctx, root, true)
	})

	w.mu.Lock()
	defer w.mu.Unlock()
	if !started {
		// Another import holds the queue; try again later.
		if t, ok := w.timers[root.Path()]; ok {
			t.Reset(w.debounce)
		}
		return
	}
	delete(w.timers, root.Path())
	w.logger.Debug().Str("path", root.Path()).Msg("linked directory changed, re-importing")
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, t := range w.timers {
		t.Stop()
		delete(w.timers, p)
	}
}
