package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorsync/mirrorsync/internal/location"
)

func newTestPollObserver(t *testing.T) (*pollObserver, string) {
	t.Helper()
	root := t.TempDir()
	loc, err := location.NewFolder(root)
	require.NoError(t, err)

	po := newPollObserver(loc, NewIgnoreList(nil), 20*time.Millisecond)
	po.events = make(chan ChangeEvent, eventBufferSize)
	return po, root
}

func drainAll(po *pollObserver) []ChangeEvent {
	var events []ChangeEvent
	for {
		select {
		case ev := <-po.events:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func drainEvents(po *pollObserver) []string {
	var paths []string
	for _, ev := range drainAll(po) {
		paths = append(paths, ev.Path)
	}
	return paths
}

func TestPollObserver_DiffDetectsChanges(t *testing.T) {
	po, root := newTestPollObserver(t)
	ctx := context.Background()

	// create
	put(t, root, "a.txt", "v1")
	po.diff(ctx)
	events := drainAll(po)
	require.Len(t, events, 1)
	assert.Equal(t, "a.txt", events[0].Path)
	assert.Equal(t, ChangeCreate, events[0].Kind)

	// modify
	put(t, root, "a.txt", "v2 with more bytes")
	po.diff(ctx)
	events = drainAll(po)
	require.Len(t, events, 1)
	assert.Equal(t, ChangeModify, events[0].Kind)

	// an mtime-only touch does not change the digest
	touch(t, root, "a.txt", time.Now().Add(time.Minute))
	po.diff(ctx)
	assert.Empty(t, drainEvents(po))

	// delete
	require.NoError(t, os.Remove(filepath.Join(root, "a.txt")))
	po.diff(ctx)
	events = drainAll(po)
	require.Len(t, events, 1)
	assert.Equal(t, ChangeDelete, events[0].Kind)
}

func TestPollObserver_IgnoreOnceSuppressesOneDiff(t *testing.T) {
	po, root := newTestPollObserver(t)
	ctx := context.Background()

	put(t, root, "b.txt", "engine wrote this")
	po.IgnoreOnce("b.txt")
	po.diff(ctx)
	assert.Empty(t, drainEvents(po), "echo of our own write must not come back as an event")

	// the suppression is consumed, a later change is reported again
	put(t, root, "b.txt", "user wrote this")
	po.diff(ctx)
	assert.Equal(t, []string{"b.txt"}, drainEvents(po))
}

func TestPollObserver_FiltersIgnoredPaths(t *testing.T) {
	po, root := newTestPollObserver(t)
	ctx := context.Background()

	put(t, root, ".DS_Store", "junk")
	put(t, root, "real.txt", "content")
	po.diff(ctx)

	assert.Equal(t, []string{"real.txt"}, drainEvents(po))
}

func TestPollObserver_Lifecycle(t *testing.T) {
	root := t.TempDir()
	loc, err := location.NewFolder(root)
	require.NoError(t, err)
	po := newPollObserver(loc, NewIgnoreList(nil), 20*time.Millisecond)

	require.NoError(t, po.Start(context.Background()))

	put(t, root, "late.txt", "appeared after start")

	select {
	case ev := <-po.Events():
		assert.Equal(t, "late.txt", ev.Path)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for poll event")
	}

	po.Stop()

	_, open := <-po.Events()
	assert.False(t, open, "events channel should close on stop")
}
