// Package watch wakes pollers when the backing database changes on disk.
// Consumers block in Wait; the Waiter fires on any write to the database
// file or its WAL sidecar, debounced, with a fallback ticker as a safety
// net for filesystems where fsnotify misses events. Task pickup stays
// poll-based either way. A wakeup is only a hint to poll again.
package watch

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// DefaultFallbackInterval bounds how long a blocked Wait can sleep
	// when no filesystem event arrives.
	DefaultFallbackInterval = 10 * time.Second

	debounce = 100 * time.Millisecond
)

// Waiter blocks until the watched database plausibly changed.
type Waiter struct {
	watcher  *fsnotify.Watcher // nil when running ticker-only
	dbBase   string
	fallback time.Duration
}

// New creates a Waiter for the database at dbPath. The watch is placed on
// the containing directory because SQLite replaces the -wal file rather
// than rewriting it in place. A watcher setup failure is not fatal: the
// Waiter degrades to pure ticker polling.
func New(dbPath string, fallback time.Duration) *Waiter {
	if fallback <= 0 {
		fallback = DefaultFallbackInterval
	}
	w := &Waiter{dbBase: filepath.Base(dbPath), fallback: fallback}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return w
	}
	if err := watcher.Add(filepath.Dir(dbPath)); err != nil {
		_ = watcher.Close()
		return w
	}
	w.watcher = watcher
	return w
}

// Wait blocks until the database changes, the fallback interval elapses, or
// ctx is cancelled. It returns ctx.Err() only on cancellation.
func (w *Waiter) Wait(ctx context.Context) error {
	fallback := time.NewTimer(w.fallback)
	defer fallback.Stop()

	if w.watcher == nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-fallback.C:
			return nil
		}
	}

	settle := time.NewTimer(0)
	if !settle.Stop() {
		<-settle.C
	}
	defer settle.Stop()

	events := w.watcher.Events
	errs := w.watcher.Errors
	armed := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !w.relevant(event.Name) {
				continue
			}
			// Debounce: WAL writes arrive in bursts.
			if armed && !settle.Stop() {
				select {
				case <-settle.C:
				default:
				}
			}
			settle.Reset(debounce)
			armed = true
		case <-settle.C:
			return nil
		case _, ok := <-errs:
			if !ok {
				errs = nil
			}
			// Errors degrade to the fallback tick.
		case <-fallback.C:
			return nil
		}
	}
}

// relevant reports whether a filesystem event concerns the database file or
// one of its SQLite sidecars (-wal, -shm, -journal).
func (w *Waiter) relevant(name string) bool {
	return strings.HasPrefix(filepath.Base(name), w.dbBase)
}

// Close releases the underlying watcher. Waiters without one are no-ops.
func (w *Waiter) Close() error {
	if w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}
