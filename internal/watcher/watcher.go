// Package watcher ties scan-cache invalidation to filesystem mutation:
// when a file under a cached scan root changes, the cached scan is stale
// and gets dropped without waiting for its TTL.
package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/harrison/umd/internal/events"
	"github.com/harrison/umd/internal/exclusion"
	"github.com/harrison/umd/internal/logger"
	"github.com/harrison/umd/internal/scancache"
)

// debounceWindow coalesces invalidations for the same path; editors and
// converters often emit several events per logical write.
const debounceWindow = 200 * time.Millisecond

// Watcher invalidates scan-cache entries on filesystem events under
// watched roots.
type Watcher struct {
	cache *scancache.Cache
	bus   *events.Bus
	log   logger.Logger

	fw     *fsnotify.Watcher
	done   chan struct{}
	closed sync.Once

	mu   sync.Mutex
	seen map[string]time.Time
}

// New creates a Watcher and starts its event loop.
func New(cache *scancache.Cache, bus *events.Bus, log logger.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		cache: cache,
		bus:   bus,
		log:   log,
		fw:    fw,
		done:  make(chan struct{}),
		seen:  make(map[string]time.Time),
	}
	go w.loop()
	return w, nil
}

// AddRoot watches root and its subdirectories, skipping the default
// noise directories. Called after a scan result is cached.
func (w *Watcher) AddRoot(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtrees are simply not watched
		}
		if !d.IsDir() {
			return nil
		}
		for _, skip := range exclusion.DefaultExcludedDirs {
			if d.Name() == skip {
				return filepath.SkipDir
			}
		}
		if addErr := w.fw.Add(path); addErr != nil {
			logger.Debugf(w.log, "watch %s: %v", path, addErr)
		}
		return nil
	})
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			logger.Warnf(w.log, "watcher error: %v", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	// Newly created directories join the watch set.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.fw.Add(event.Name); err != nil {
				logger.Debugf(w.log, "watch %s: %v", event.Name, err)
			}
		}
	}

	if !w.shouldInvalidate(event.Name) {
		return
	}

	removed := w.cache.InvalidateForFile(event.Name)
	if removed == 0 {
		return
	}

	logger.Debugf(w.log, "invalidated %d cached scans after change to %s", removed, event.Name)
	if w.bus != nil {
		w.bus.Publish(events.TypeScanProgress, map[string]interface{}{
			"reason":      "cache-invalidated",
			"path":        event.Name,
			"invalidated": removed,
		})
	}
}

// shouldInvalidate debounces bursts of events for the same path.
func (w *Watcher) shouldInvalidate(path string) bool {
	now := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()
	if last, ok := w.seen[path]; ok && now.Sub(last) < debounceWindow {
		return false
	}
	w.seen[path] = now

	// Keep the debounce map from growing without bound.
	if len(w.seen) > 1024 {
		for p, t := range w.seen {
			if now.Sub(t) >= debounceWindow {
				delete(w.seen, p)
			}
		}
	}
	return true
}

// Close stops the event loop and releases the underlying watcher.
func (w *Watcher) Close() error {
	var err error
	w.closed.Do(func() {
		close(w.done)
		err = w.fw.Close()
	})
	return err
}
