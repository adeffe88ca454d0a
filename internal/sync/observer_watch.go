package sync

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/rjeczalik/notify"

	"github.com/mirrorsync/mirrorsync/internal/location"
)

const (
	watchDebounce     = 50 * time.Millisecond
	watchCleanupEvery = 15 * time.Second
)

// watchObserver turns recursive filesystem notifications into change
// events. Raw events are filtered against the ignore rules, debounced
// per path, and checked against the ignore-once list at flush time so
// the engine's own writes never come back around.
type watchObserver struct {
	root   string
	ignore *IgnoreList

	raw    chan notify.EventInfo
	events chan ChangeEvent

	ignoreOnce map[string]time.Time
	ignoreMu   sync.Mutex

	pending    map[string]ChangeEvent
	timers     map[string]*time.Timer
	debounceMu sync.Mutex
	debounce   time.Duration

	done chan struct{}
	wg   sync.WaitGroup
}

func newWatchObserver(root string, ignore *IgnoreList) *watchObserver {
	return &watchObserver{
		root:       root,
		ignore:     ignore,
		ignoreOnce: make(map[string]time.Time),
		pending:    make(map[string]ChangeEvent),
		timers:     make(map[string]*time.Timer),
		debounce:   watchDebounce,
		done:       make(chan struct{}),
	}
}

func (wo *watchObserver) Start(ctx context.Context) error {
	slog.Info("watch observer start", "dir", wo.root)

	wo.raw = make(chan notify.EventInfo, eventBufferSize)
	wo.events = make(chan ChangeEvent, eventBufferSize)

	if err := notify.Watch(filepath.Join(wo.root, "..."), wo.raw, notify.All); err != nil {
		return err
	}

	wo.wg.Add(1)
	go wo.filterEvents(ctx)

	wo.wg.Add(1)
	go wo.cleanupExpired(ctx)

	return nil
}

func (wo *watchObserver) Stop() {
	close(wo.done)
	if wo.raw != nil {
		notify.Stop(wo.raw)
	}
	wo.wg.Wait()
	slog.Info("watch observer stopped", "dir", wo.root)
}

func (wo *watchObserver) Events() <-chan ChangeEvent {
	return wo.events
}

func (wo *watchObserver) IgnoreOnce(path string) {
	wo.ignoreMu.Lock()
	defer wo.ignoreMu.Unlock()
	wo.ignoreOnce[path] = time.Now().Add(defaultIgnoreWindow)
}

// consumeIgnoreOnce reports whether path is in the ignore-once window
// and removes it either way once matched.
func (wo *watchObserver) consumeIgnoreOnce(path string) bool {
	wo.ignoreMu.Lock()
	defer wo.ignoreMu.Unlock()

	expiry, exists := wo.ignoreOnce[path]
	if !exists {
		return false
	}
	delete(wo.ignoreOnce, path)
	return time.Now().Before(expiry)
}

// filterEvents translates raw absolute-path notifications into
// normalized relative paths, drops ignored ones, and debounces the
// rest. Editors and inotify both burst on writes; the debounce folds a
// burst into one event at the cost of its timeout in latency.
func (wo *watchObserver) filterEvents(ctx context.Context) {
	defer func() {
		wo.debounceMu.Lock()
		for path, timer := range wo.timers {
			timer.Stop()
			if event, exists := wo.pending[path]; exists {
				select {
				case wo.events <- event:
				default:
				}
			}
		}
		wo.debounceMu.Unlock()

		wo.wg.Done()
		close(wo.events)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-wo.done:
			return
		case event, ok := <-wo.raw:
			if !ok {
				return
			}
			rel, ok := wo.relPath(event.Path())
			if !ok || wo.ignore.ShouldIgnore(rel) {
				continue
			}
			wo.debounceEvent(rel, mapNotifyEvent(event.Event()))
		}
	}
}

// mapNotifyEvent reduces the native event mask to the change hint. A
// renamed path is reported as deleted; its new name arrives as its own
// create event.
func mapNotifyEvent(e notify.Event) ChangeKind {
	switch {
	case e&notify.Create != 0:
		return ChangeCreate
	case e&(notify.Remove|notify.Rename) != 0:
		return ChangeDelete
	default:
		return ChangeModify
	}
}

func (wo *watchObserver) relPath(abs string) (string, bool) {
	rel, err := filepath.Rel(wo.root, abs)
	if err != nil {
		return "", false
	}
	norm, err := location.NormPath(rel)
	if err != nil {
		// The watch root itself or something outside it.
		return "", false
	}
	return norm, true
}

// debounceEvent arms or re-arms the per-path flush timer. A burst
// coalesces into one event; a create followed by writes stays a create,
// anything else keeps the latest kind.
func (wo *watchObserver) debounceEvent(path string, kind ChangeKind) {
	wo.debounceMu.Lock()
	defer wo.debounceMu.Unlock()

	if timer, exists := wo.timers[path]; exists {
		timer.Stop()
		delete(wo.timers, path)
	}
	if prev, exists := wo.pending[path]; exists && prev.Kind == ChangeCreate && kind == ChangeModify {
		kind = ChangeCreate
	}
	wo.pending[path] = ChangeEvent{Path: path, Kind: kind, At: time.Now()}
	wo.timers[path] = time.AfterFunc(wo.debounce, func() {
		wo.flushEvent(path)
	})
}

func (wo *watchObserver) flushEvent(path string) {
	wo.debounceMu.Lock()
	event, exists := wo.pending[path]
	if !exists {
		wo.debounceMu.Unlock()
		return
	}
	delete(wo.pending, path)
	delete(wo.timers, path)
	wo.debounceMu.Unlock()

	// Checked at flush time, not arrival time, so an engine write that
	// lands mid-debounce still suppresses its own echo.
	if wo.consumeIgnoreOnce(path) {
		return
	}

	select {
	case wo.events <- event:
		slog.Debug("watch observer", "path", path, "kind", event.Kind)
	default:
		slog.Warn("watch observer dropped", "reason", "channel full", "path", path)
	}
}

func (wo *watchObserver) cleanupExpired(ctx context.Context) {
	defer wo.wg.Done()

	ticker := time.NewTicker(watchCleanupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-wo.done:
			return
		case <-ticker.C:
			wo.ignoreMu.Lock()
			now := time.Now()
			for path, expiry := range wo.ignoreOnce {
				if now.After(expiry) {
					delete(wo.ignoreOnce, path)
				}
			}
			wo.ignoreMu.Unlock()
		}
	}
}
