package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mirrorsync/mirrorsync/internal/location"
)

// pollObserver approximates change notifications for locations without
// native events by listing on a timer and diffing against the previous
// snapshot. Digest is the change signal, same as the engine's.
type pollObserver struct {
	loc      location.Location
	ignore   *IgnoreList
	interval time.Duration

	events   chan ChangeEvent
	snapshot map[string]location.FileRecord

	ignoreOnce map[string]time.Time
	ignoreMu   sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup
}

func newPollObserver(loc location.Location, ignore *IgnoreList, interval time.Duration) *pollObserver {
	if interval <= 0 {
		interval = defaultPollEvery
	}
	return &pollObserver{
		loc:        loc,
		ignore:     ignore,
		interval:   interval,
		snapshot:   make(map[string]location.FileRecord),
		ignoreOnce: make(map[string]time.Time),
		done:       make(chan struct{}),
	}
}

func (po *pollObserver) Start(ctx context.Context) error {
	slog.Info("poll observer start", "loc", po.loc.String(), "interval", po.interval)

	po.events = make(chan ChangeEvent, eventBufferSize)

	// Prime the snapshot so the first tick reports changes, not the
	// whole listing. A failed prime just means a noisier first diff.
	if records, err := po.loc.List(ctx); err == nil {
		po.snapshot = recordMap(records)
	}

	po.wg.Add(1)
	go po.run(ctx)
	return nil
}

func (po *pollObserver) Stop() {
	close(po.done)
	po.wg.Wait()
	slog.Info("poll observer stopped", "loc", po.loc.String())
}

func (po *pollObserver) Events() <-chan ChangeEvent {
	return po.events
}

func (po *pollObserver) IgnoreOnce(path string) {
	po.ignoreMu.Lock()
	defer po.ignoreMu.Unlock()
	// The window must outlive at least one poll or the suppression
	// expires before the diff that would use it.
	po.ignoreOnce[path] = time.Now().Add(2 * po.interval)
}

func (po *pollObserver) consumeIgnoreOnce(path string) bool {
	po.ignoreMu.Lock()
	defer po.ignoreMu.Unlock()

	expiry, exists := po.ignoreOnce[path]
	if !exists {
		return false
	}
	delete(po.ignoreOnce, path)
	return time.Now().Before(expiry)
}

func (po *pollObserver) run(ctx context.Context) {
	defer func() {
		po.wg.Done()
		close(po.events)
	}()

	timer := time.NewTimer(po.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-po.done:
			return
		case <-timer.C:
			po.diff(ctx)
			timer.Reset(po.interval)
		}
	}
}

// diff lists the location, emits an event per created, changed, or
// removed path, and replaces the snapshot. A failed listing keeps the
// old snapshot; reachability is the engine's concern, not ours.
func (po *pollObserver) diff(ctx context.Context) {
	records, err := po.loc.List(ctx)
	if err != nil {
		slog.Debug("poll observer list failed", "loc", po.loc.String(), "error", err)
		return
	}
	current := recordMap(records)

	changed := make(map[string]ChangeKind)
	for path, rec := range current {
		prev, ok := po.snapshot[path]
		switch {
		case !ok:
			changed[path] = ChangeCreate
		case prev.Digest != rec.Digest:
			changed[path] = ChangeModify
		}
	}
	for path := range po.snapshot {
		if _, ok := current[path]; !ok {
			changed[path] = ChangeDelete
		}
	}
	po.snapshot = current

	now := time.Now()
	for path, kind := range changed {
		if po.ignore.ShouldIgnore(path) || po.consumeIgnoreOnce(path) {
			continue
		}
		select {
		case po.events <- ChangeEvent{Path: path, Kind: kind, At: now}:
			slog.Debug("poll observer", "path", path, "kind", kind)
		default:
			slog.Warn("poll observer dropped", "reason", "channel full", "path", path)
		}
	}
}
