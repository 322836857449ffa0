// Package watch reloads the rule registry when module files change.
//
// The watcher observes a corpus directory tree with fsnotify, debounces bursts
// of events, rebuilds a snapshot through a caller-supplied LoadFunc, and
// publishes it with registry.Holder.Swap. A failed reload keeps the previous
// snapshot in place.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"rulebook/internal/logging"
	"rulebook/internal/registry"
)

// LoadFunc produces a fresh snapshot from the current state of the corpus.
type LoadFunc func(ctx context.Context) (*registry.Snapshot, error)

// SwapFunc is notified after a new snapshot is published.
type SwapFunc func(prev, next *registry.Snapshot, changes registry.Changes)

// Watcher watches a corpus directory and hot-swaps snapshots on change.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	dir         string
	holder      *registry.Holder
	load        LoadFunc
	isModule    func(path string) bool
	onSwap      []SwapFunc
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	started     bool
	closeOnce   sync.Once

	stats Stats
}

// Stats tracks watcher activity.
type Stats struct {
	Events        int
	Reloads       int
	FailedReloads int
	Errors        int
	LastReload    time.Time
	LastChanges   registry.Changes
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long a path must be quiet before a reload.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounceDur = d
		}
	}
}

// WithFilter restricts which file paths trigger reloads.
func WithFilter(isModule func(path string) bool) Option {
	return func(w *Watcher) { w.isModule = isModule }
}

// OnSwap registers a callback run after every successful reload.
func OnSwap(fn SwapFunc) Option {
	return func(w *Watcher) { w.onSwap = append(w.onSwap, fn) }
}

// New creates a watcher for dir. The holder must already carry a snapshot.
func New(dir string, holder *registry.Holder, load LoadFunc, opts ...Option) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:     fw,
		dir:         dir,
		holder:      holder,
		load:        load,
		isModule:    defaultFilter,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond, // Debounce rapid saves
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func defaultFilter(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml" || ext == ".md"
}

// ErrStopped is returned by Start once the event loop has run and exited.
var ErrStopped = errors.New("watcher already stopped")

// Start watches every directory under dir and runs the event loop in a goroutine.
// A watcher runs at most once; Start after the loop exited returns ErrStopped.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	if w.started {
		w.mu.Unlock()
		return ErrStopped
	}
	w.running = true
	w.started = true
	w.mu.Unlock()

	if err := w.addTree(w.dir); err != nil {
		w.mu.Lock()
		w.running = false
		w.started = false
		w.mu.Unlock()
		return err
	}
	logging.Get(logging.CategoryWatch).Info("Watching %s (%d dirs, debounce %v)", w.dir, len(w.watcher.WatchList()), w.debounceDur)

	go w.run(ctx)
	return nil
}

// addTree registers dir and its non-hidden subdirectories.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// Stop stops the event loop, waits for it to exit and releases the fsnotify watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	wasRunning := w.running
	w.running = false
	w.mu.Unlock()

	if wasRunning {
		close(w.stopCh)
		<-w.doneCh
	}

	w.closeOnce.Do(func() {
		if err := w.watcher.Close(); err != nil {
			logging.Get(logging.CategoryWatch).Error("Error closing watcher: %v", err)
		}
	})
	logging.Get(logging.CategoryWatch).Debug("Watcher stopped")
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	tick := 100 * time.Millisecond
	if w.debounceDur < tick {
		tick = w.debounceDur
	}
	debounceTicker := time.NewTicker(tick)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Get(logging.CategoryWatch).Debug("Context cancelled")
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryWatch).Error("Watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-debounceTicker.C:
			w.processDebouncedEvents(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return // chmod
	}

	// New directories need their own watch
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				logging.Get(logging.CategoryWatch).Warn("Failed to watch new dir %s: %v", event.Name, err)
			}
			w.mark(event.Name)
			return
		}
	}

	if !w.isModule(event.Name) {
		return
	}
	logging.Get(logging.CategoryWatch).Debug("%s event for %s", event.Op, event.Name)
	w.mark(event.Name)
}

func (w *Watcher) mark(path string) {
	w.mu.Lock()
	w.stats.Events++
	w.debounceMap[path] = time.Now()
	w.mu.Unlock()
}

// processDebouncedEvents reloads once if any path has settled past the debounce window.
func (w *Watcher) processDebouncedEvents(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	settled := 0
	for path, eventTime := range w.debounceMap {
		if now.Sub(eventTime) >= w.debounceDur {
			settled++
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	if settled > 0 {
		w.Reload(ctx)
	}
}

// Reload rebuilds and publishes a snapshot now. It reports whether the swap happened.
func (w *Watcher) Reload(ctx context.Context) bool {
	log := logging.Get(logging.CategoryWatch)

	next, err := w.load(ctx)
	if err != nil {
		log.Error("Reload failed, keeping previous snapshot: %v", err)
		w.mu.Lock()
		w.stats.FailedReloads++
		w.mu.Unlock()
		return false
	}

	prev := w.holder.Swap(next)
	var prevReg *registry.Registry
	if prev != nil {
		prevReg = prev.Registry
	}
	changes := registry.Diff(prevReg, next.Registry)

	log.Info("Reloaded registry: %d entries (+%d -%d ~%d), %d failures, %d conflicts",
		next.Registry.Len(), len(changes.Added), len(changes.Removed), len(changes.Changed),
		len(next.Failures()), len(next.Conflicts()))

	w.mu.Lock()
	w.stats.Reloads++
	w.stats.LastReload = time.Now()
	w.stats.LastChanges = changes
	callbacks := w.onSwap
	w.mu.Unlock()

	for _, fn := range callbacks {
		fn(prev, next, changes)
	}
	return true
}

// GetStats returns the current watcher statistics.
func (w *Watcher) GetStats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// IsWatching returns true if the watcher is currently running.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// WatchedDirs returns the directories being watched.
func (w *Watcher) WatchedDirs() []string {
	return w.watcher.WatchList()
}
