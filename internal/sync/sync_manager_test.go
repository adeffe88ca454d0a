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

func TestPairKey(t *testing.T) {
	key := PairKey("folder:/a", "folder:/b")
	assert.Len(t, key, 12)
	assert.Equal(t, key, PairKey("folder:/a", "folder:/b"), "deterministic")
	assert.NotEqual(t, key, PairKey("folder:/b", "folder:/a"), "order matters")
	assert.NotEqual(t, key, PairKey("folder:/a", "folder:/c"))
}

func newManagerPair(t *testing.T, stateDir string) (*Manager, string, string) {
	t.Helper()

	rootA := t.TempDir()
	rootB := t.TempDir()
	sideA, err := location.NewFolder(rootA)
	require.NoError(t, err)
	sideB, err := location.NewFolder(rootB)
	require.NoError(t, err)

	mgr, err := NewManager(Config{
		SideA:    sideA,
		SideB:    sideB,
		StateDir: stateDir,
		Interval: time.Hour, // only the observers should drive this test
	})
	require.NoError(t, err)
	return mgr, rootA, rootB
}

func TestManager_SecondInstanceRejected(t *testing.T) {
	stateDir := t.TempDir()
	rootA := t.TempDir()
	rootB := t.TempDir()

	sideA, err := location.NewFolder(rootA)
	require.NoError(t, err)
	sideB, err := location.NewFolder(rootB)
	require.NoError(t, err)

	first, err := NewManager(Config{SideA: sideA, SideB: sideB, StateDir: stateDir})
	require.NoError(t, err)
	defer first.Stop()

	sideA2, err := location.NewFolder(rootA)
	require.NoError(t, err)
	sideB2, err := location.NewFolder(rootB)
	require.NoError(t, err)

	_, err = NewManager(Config{SideA: sideA2, SideB: sideB2, StateDir: stateDir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already being synced")
}

func TestManager_RunOnceAndStatus(t *testing.T) {
	mgr, rootA, rootB := newManagerPair(t, t.TempDir())
	defer mgr.Stop()

	put(t, rootA, "report.txt", "contents")

	stats, err := mgr.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Creates)
	assert.Equal(t, "contents", get(t, rootB, "report.txt"))

	report := mgr.Status()
	assert.NotEmpty(t, report.PairKey)
	assert.Equal(t, 1, report.JournalPaths)
	assert.Zero(t, report.Conflicts)
	assert.Equal(t, uint64(1), report.Tracker.Cycles)
	assert.True(t, report.Tracker.SideA.Reachable)
	assert.True(t, report.Tracker.SideB.Reachable)

	state, err := mgr.JournalState()
	require.NoError(t, err)
	require.Len(t, state, 1)
	assert.Equal(t, "report.txt", state[0].Path)
}

func TestManager_EventDrivenSync(t *testing.T) {
	mgr, rootA, rootB := newManagerPair(t, t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, mgr.Start(ctx))
	// Stop drains the cycle loop only after ctx is cancelled, so cancel
	// must run before Stop (LIFO defers; same order the daemon uses).
	defer mgr.Stop()
	defer cancel()

	// change lands on B through the observer fast path, no cycle timer
	put(t, rootA, "live.txt", "written while running")
	assert.Eventually(t, func() bool {
		return !gone(rootB, "live.txt")
	}, 5*time.Second, 20*time.Millisecond, "create should propagate")

	// deletes ride the same path
	require.NoError(t, os.Remove(filepath.Join(rootA, "live.txt")))
	assert.Eventually(t, func() bool {
		return gone(rootB, "live.txt")
	}, 5*time.Second, 20*time.Millisecond, "delete should propagate")

	// the engine's own write on B must not echo back as a change
	assert.Eventually(t, func() bool {
		return mgr.tracker.Snapshot().InFlight == 0
	}, 5*time.Second, 20*time.Millisecond)
}
