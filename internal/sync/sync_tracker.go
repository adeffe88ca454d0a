package sync

import (
	"sync"
	"time"
)

// SideStatus is the reachability view of one location.
type SideStatus struct {
	Location  string    `json:"location"`
	Reachable bool      `json:"reachable"`
	LastError string    `json:"lastError,omitempty"`
	LastSeen  time.Time `json:"lastSeen"`
}

// CycleStats summarizes one reconciliation pass.
type CycleStats struct {
	StartedAt   time.Time     `json:"startedAt"`
	Duration    time.Duration `json:"duration"`
	Actions     int           `json:"actions"`
	Creates     int           `json:"creates"`
	Updates     int           `json:"updates"`
	Deletes     int           `json:"deletes"`
	Conflicts   int           `json:"conflicts"`
	Unchanged   int           `json:"unchanged"`
	Ignored     int           `json:"ignored"`
	Deferred    int           `json:"deferred"`
	Failed      int           `json:"failed"`
	BytesCopied int64         `json:"bytesCopied"`
}

// TrackerSnapshot is a point-in-time copy of the tracker for the
// status API.
type TrackerSnapshot struct {
	Cycles        uint64     `json:"cycles"`
	ActionsTotal  uint64     `json:"actionsTotal"`
	FailuresTotal uint64     `json:"failuresTotal"`
	BytesTotal    uint64     `json:"bytesTotal"`
	InFlight      int        `json:"inFlight"`
	Retrying      int        `json:"retrying"`
	LastCycle     CycleStats `json:"lastCycle"`
	SideA         SideStatus `json:"sideA"`
	SideB         SideStatus `json:"sideB"`
}

// SyncTracker aggregates engine progress. It also owns the per-path
// in-flight claims that serialize actions targeting the same path: a
// path is claimed before any location I/O starts and released after, so
// a full cycle and an event fast-path can never race on one file.
type SyncTracker struct {
	mu       sync.Mutex
	inFlight map[string]struct{}

	cycles        uint64
	actionsTotal  uint64
	failuresTotal uint64
	bytesTotal    uint64
	lastCycle     CycleStats

	sideA SideStatus
	sideB SideStatus
}

func NewSyncTracker(locA, locB string) *SyncTracker {
	now := time.Now()
	return &SyncTracker{
		inFlight: make(map[string]struct{}),
		sideA:    SideStatus{Location: locA, Reachable: true, LastSeen: now},
		sideB:    SideStatus{Location: locB, Reachable: true, LastSeen: now},
	}
}

// TryClaim marks path as having an action in flight. It reports false
// when another action already owns the path; the caller must skip the
// path this cycle.
func (t *SyncTracker) TryClaim(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.inFlight[path]; busy {
		return false
	}
	t.inFlight[path] = struct{}{}
	return true
}

// Release frees a claimed path.
func (t *SyncTracker) Release(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inFlight, path)
}

// InFlight returns the number of actions currently executing.
func (t *SyncTracker) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inFlight)
}

// RecordCycle folds one finished cycle into the running totals.
func (t *SyncTracker) RecordCycle(stats CycleStats) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cycles++
	t.actionsTotal += uint64(stats.Actions)
	t.failuresTotal += uint64(stats.Failed)
	t.bytesTotal += uint64(stats.BytesCopied)
	t.lastCycle = stats
}

// RecordAction folds a single fast-path action into the totals without
// touching the last-cycle stats.
func (t *SyncTracker) RecordAction(bytes int64, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.actionsTotal++
	t.bytesTotal += uint64(bytes)
	if failed {
		t.failuresTotal++
	}
}

// SetSideUp marks a side reachable again.
func (t *SyncTracker) SetSideUp(side Side) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.side(side)
	st.Reachable = true
	st.LastError = ""
	st.LastSeen = time.Now()
}

// SetSideDown records a connection-level failure for a side.
func (t *SyncTracker) SetSideDown(side Side, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.side(side)
	st.Reachable = false
	if err != nil {
		st.LastError = err.Error()
	}
}

func (t *SyncTracker) side(side Side) *SideStatus {
	if side == SideA {
		return &t.sideA
	}
	return &t.sideB
}

// Snapshot copies the tracker state for reporting. Retrying is filled
// in by the caller, which owns the retry tracker.
func (t *SyncTracker) Snapshot() TrackerSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TrackerSnapshot{
		Cycles:        t.cycles,
		ActionsTotal:  t.actionsTotal,
		FailuresTotal: t.failuresTotal,
		BytesTotal:    t.bytesTotal,
		InFlight:      len(t.inFlight),
		LastCycle:     t.lastCycle,
		SideA:         t.sideA,
		SideB:         t.sideB,
	}
}
