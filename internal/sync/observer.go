package sync

import (
	"context"
	"time"

	"github.com/mirrorsync/mirrorsync/internal/location"
)

const (
	eventBufferSize     = 64
	defaultIgnoreWindow = time.Second
	defaultPollEvery    = 10 * time.Second
)

// ChangeKind is the observer's guess at what happened to a path. It is
// a hint for logs and diagnostics; the engine re-verifies against live
// state before acting.
type ChangeKind string

const (
	ChangeCreate ChangeKind = "create"
	ChangeModify ChangeKind = "modify"
	ChangeDelete ChangeKind = "delete"
)

// ChangeEvent reports that a path inside one location changed. Paths
// are normalized and relative to the location root.
type ChangeEvent struct {
	Path string
	Kind ChangeKind
	At   time.Time
}

// Observer emits change events for one location so the engine can
// reconcile single paths without waiting for the next full cycle.
// Events are hints: losing one is harmless because full cycles catch
// everything the observer missed.
type Observer interface {
	Start(ctx context.Context) error
	Stop()
	Events() <-chan ChangeEvent

	// IgnoreOnce suppresses the next event for path. The engine calls
	// it right after its own writes so they do not echo back as
	// external changes.
	IgnoreOnce(path string)
}

// NewObserver picks the event source for a location: filesystem
// notifications when the location exposes a watchable root, listing
// polls otherwise.
func NewObserver(loc location.Location, ignore *IgnoreList, pollEvery time.Duration) Observer {
	if w, ok := loc.(location.Watchable); ok {
		return newWatchObserver(w.WatchRoot(), ignore)
	}
	return newPollObserver(loc, ignore, pollEvery)
}
