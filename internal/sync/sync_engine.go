package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"

	"github.com/mirrorsync/mirrorsync/internal/location"
)

const (
	defaultWorkers   = 4
	defaultOpTimeout = 1 * time.Minute
)

// ErrCycleRunning is returned when a reconciliation pass is requested
// while another is still in flight.
var ErrCycleRunning = errors.New("sync cycle already running")

// SideError attributes a cycle failure to one half of the pair so the
// caller can suspend propagation toward that side only.
type SideError struct {
	Side Side
	Err  error
}

func (e *SideError) Error() string {
	return fmt.Sprintf("side %s: %v", e.Side, e.Err)
}

func (e *SideError) Unwrap() error {
	return e.Err
}

// SyncEngine owns the three-way reconciliation between two locations
// and the journal recording their last agreed state. It is the only
// component that mutates the journal, and it never does so before the
// corresponding location operation succeeded.
type SyncEngine struct {
	sideA     location.Location
	sideB     location.Location
	journal   *SyncJournal
	ignore    *IgnoreList
	retries   *retryTracker
	tracker   *SyncTracker
	conflicts *ConflictLog
	workers   int
	opTimeout time.Duration

	// echo announces writes and deletes the engine itself performed so
	// event observers can suppress the resulting notifications.
	echo func(side Side, path string)

	muSync sync.Mutex
}

func NewSyncEngine(
	a, b location.Location,
	journal *SyncJournal,
	ignore *IgnoreList,
	conflicts *ConflictLog,
	tracker *SyncTracker,
	workers int,
	opTimeout time.Duration,
) *SyncEngine {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	return &SyncEngine{
		sideA:     a,
		sideB:     b,
		journal:   journal,
		ignore:    ignore,
		retries:   newRetryTracker(),
		tracker:   tracker,
		conflicts: conflicts,
		workers:   workers,
		opTimeout: opTimeout,
		echo:      func(Side, string) {},
	}
}

// SetEchoFilter registers the callback invoked after every write or
// delete the engine applies. Used to arm watcher ignore-once entries.
func (e *SyncEngine) SetEchoFilter(fn func(side Side, path string)) {
	if fn != nil {
		e.echo = fn
	}
}

// RetryingPaths returns the number of paths waiting out a backoff.
func (e *SyncEngine) RetryingPaths() int {
	return e.retries.Pending()
}

func (e *SyncEngine) side(s Side) location.Location {
	if s == SideA {
		return e.sideA
	}
	return e.sideB
}

// RunCycle performs one full reconciliation pass: list both sides,
// classify every path against the journal, and apply the resulting
// plan. Only one cycle runs at a time.
func (e *SyncEngine) RunCycle(ctx context.Context) (CycleStats, error) {
	if !e.muSync.TryLock() {
		return CycleStats{}, ErrCycleRunning
	}
	defer e.muSync.Unlock()

	stats := CycleStats{StartedAt: time.Now()}

	stateA, stateB, err := e.listBoth(ctx)
	if err != nil {
		return stats, err
	}

	journalCount, err := e.journal.Count()
	if err != nil {
		return stats, fmt.Errorf("journal count: %w", err)
	}

	// First run against existing data on both sides: adopt identical
	// files as the baseline instead of copying them again.
	if journalCount == 0 && len(stateA) > 0 && len(stateB) > 0 {
		seeded := e.seedBaseline(stateA, stateB)
		if seeded > 0 {
			slog.Info("seeded baseline from identical files", "paths", seeded)
		}
	}

	journalState, err := e.journal.State()
	if err != nil {
		return stats, fmt.Errorf("journal state: %w", err)
	}

	plan := e.reconcile(stateA, stateB, journalState)
	if plan.HasChanges() {
		slog.Debug("reconcile decisions",
			"writesA", len(plan.WritesA),
			"writesB", len(plan.WritesB),
			"deletesA", len(plan.DeletesA),
			"deletesB", len(plan.DeletesB),
			"conflicts", len(plan.Conflicts),
			"agreements", len(plan.Agreements),
			"cleanups", len(plan.Cleanups),
		)
	}

	e.executePlan(ctx, plan, &stats)

	stats.Unchanged = len(plan.Unchanged)
	stats.Ignored = len(plan.Ignored)
	stats.Deferred += len(plan.Deferred)
	stats.Duration = time.Since(stats.StartedAt)
	e.tracker.RecordCycle(stats)

	if plan.HasChanges() {
		slog.Info("sync cycle",
			"actions", stats.Actions,
			"creates", stats.Creates,
			"updates", stats.Updates,
			"deletes", stats.Deletes,
			"conflicts", stats.Conflicts,
			"failed", stats.Failed,
			"unchanged", stats.Unchanged,
			"took", stats.Duration,
		)
	}
	return stats, nil
}

// listBoth fetches both listings concurrently and converts them to
// path-keyed maps. A failed side is reported through SideError so the
// caller knows which half went dark.
func (e *SyncEngine) listBoth(ctx context.Context) (map[string]location.FileRecord, map[string]location.FileRecord, error) {
	var stateA, stateB map[string]location.FileRecord

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		records, err := e.sideA.List(egCtx)
		if err != nil {
			e.tracker.SetSideDown(SideA, err)
			return &SideError{Side: SideA, Err: err}
		}
		e.tracker.SetSideUp(SideA)
		stateA = recordMap(records)
		return nil
	})
	eg.Go(func() error {
		records, err := e.sideB.List(egCtx)
		if err != nil {
			e.tracker.SetSideDown(SideB, err)
			return &SideError{Side: SideB, Err: err}
		}
		e.tracker.SetSideUp(SideB)
		stateB = recordMap(records)
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}
	return stateA, stateB, nil
}

func recordMap(records []location.FileRecord) map[string]location.FileRecord {
	state := make(map[string]location.FileRecord, len(records))
	for _, rec := range records {
		state[rec.Path] = rec
	}
	return state
}

// seedBaseline journals every path both sides already hold with equal
// content. Returns the number of rows written.
func (e *SyncEngine) seedBaseline(stateA, stateB map[string]location.FileRecord) int {
	seeded := 0
	for path, a := range stateA {
		b, ok := stateB[path]
		if !ok || !a.SameContent(b) {
			continue
		}
		rec := &SyncedRecord{
			Path:         path,
			DigestA:      a.Digest,
			DigestB:      b.Digest,
			Size:         a.Size,
			LastSyncedAt: time.Now().UTC(),
		}
		if err := e.journal.Set(rec); err != nil {
			slog.Error("seed baseline", "path", path, "error", err)
			continue
		}
		seeded++
	}
	return seeded
}

// reconcile classifies every path in the union of both listings and
// the journal into the plan batches.
func (e *SyncEngine) reconcile(stateA, stateB map[string]location.FileRecord, journalState map[string]*SyncedRecord) *ReconcilePlan {
	plan := NewReconcilePlan()
	now := time.Now()

	allPaths := mapset.NewThreadUnsafeSet[string]()
	for path := range stateA {
		allPaths.Add(path)
	}
	for path := range stateB {
		allPaths.Add(path)
	}
	for path := range journalState {
		allPaths.Add(path)
	}

	allPaths.Each(func(path string) bool {
		if e.ignore.ShouldIgnore(path) {
			plan.Ignored[path] = struct{}{}
			return false
		}
		if !e.retries.Ready(path, now) {
			plan.Deferred[path] = struct{}{}
			return false
		}

		a, aOK := stateA[path]
		if !aOK {
			a = location.FileRecord{Path: path, Kind: location.KindAbsent}
		}
		b, bOK := stateB[path]
		if !bOK {
			b = location.FileRecord{Path: path, Kind: location.KindAbsent}
		}

		decision, op, agreed := classifyPath(path, a, b, journalState[path])
		switch decision {
		case decideCleanup:
			plan.Cleanups[path] = struct{}{}
		case decideAgree:
			plan.Agreements[path] = agreed
		case decideConflict:
			plan.Conflicts[path] = op
		case decideWrite:
			if op.Target == SideA {
				plan.WritesA[path] = op
			} else {
				plan.WritesB[path] = op
			}
		case decideDelete:
			if op.Target == SideA {
				plan.DeletesA[path] = op
			} else {
				plan.DeletesB[path] = op
			}
		default:
			plan.Unchanged[path] = struct{}{}
		}
		return false
	})

	return plan
}

type decision int

const (
	decideNone decision = iota
	decideAgree
	decideCleanup
	decideWrite
	decideDelete
	decideConflict
)

// classifyPath runs the three-way comparison for one path. Digests are
// the change signal; a missing journal row means the path was never
// synchronized. The returned operation is nil unless the decision
// requires location I/O.
func classifyPath(path string, a, b location.FileRecord, base *SyncedRecord) (decision, *SyncOperation, *SyncedRecord) {
	aPresent := a.Present()
	bPresent := b.Present()

	aChanged := aPresent && (base == nil || a.Digest != base.DigestA)
	bChanged := bPresent && (base == nil || b.Digest != base.DigestB)
	aDeleted := !aPresent && base != nil
	bDeleted := !bPresent && base != nil

	op := &SyncOperation{Path: path, A: a, B: b, Baseline: base}

	switch {
	case !aPresent && !bPresent:
		// Deleted on both sides independently: agreement, drop the row.
		return decideCleanup, nil, nil

	case aPresent && bPresent && a.Digest == b.Digest:
		// Contents agree. Journal the fact if it does not know yet.
		if base != nil && base.DigestA == a.Digest && base.DigestB == b.Digest {
			return decideNone, nil, nil
		}
		return decideAgree, nil, &SyncedRecord{
			Path:         path,
			DigestA:      a.Digest,
			DigestB:      b.Digest,
			Size:         a.Size,
			LastSyncedAt: time.Now().UTC(),
		}

	case (aChanged && bChanged) || (aChanged && bDeleted) || (bChanged && aDeleted):
		// Divergent independent changes, including delete-vs-modify and
		// two sides creating the same path with different content.
		conflict := resolveConflict(path, a, b)
		op.Op = OpConflict
		op.Target = conflict.Loser()
		op.Conflict = conflict
		return decideConflict, op, nil

	case aChanged:
		op.Target = SideB
		op.Op = OpCreate
		if bPresent {
			op.Op = OpUpdate
		}
		return decideWrite, op, nil

	case bChanged:
		op.Target = SideA
		op.Op = OpCreate
		if aPresent {
			op.Op = OpUpdate
		}
		return decideWrite, op, nil

	case aDeleted && bPresent:
		op.Op = OpDelete
		op.Target = SideB
		return decideDelete, op, nil

	case bDeleted && aPresent:
		op.Op = OpDelete
		op.Target = SideA
		return decideDelete, op, nil

	default:
		return decideNone, nil, nil
	}
}

// ReconcilePath is the event fast path: a three-way comparison of a
// single path, applied immediately. Full cycles remain the safety net
// for anything it skips.
func (e *SyncEngine) ReconcilePath(ctx context.Context, path string) error {
	norm, err := location.NormPath(path)
	if err != nil {
		return err
	}
	if e.ignore.ShouldIgnore(norm) {
		return nil
	}
	if !e.retries.Ready(norm, time.Now()) {
		return nil
	}

	var a, b location.FileRecord
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		rec, err := e.sideA.Stat(egCtx, norm)
		if err != nil {
			e.tracker.SetSideDown(SideA, err)
			return &SideError{Side: SideA, Err: err}
		}
		e.tracker.SetSideUp(SideA)
		a = rec
		return nil
	})
	eg.Go(func() error {
		rec, err := e.sideB.Stat(egCtx, norm)
		if err != nil {
			e.tracker.SetSideDown(SideB, err)
			return &SideError{Side: SideB, Err: err}
		}
		e.tracker.SetSideUp(SideB)
		b = rec
		return nil
	})
	if err := eg.Wait(); err != nil {
		return err
	}

	// Directories are implied by their files and never synced directly.
	if a.Kind == location.KindDir || b.Kind == location.KindDir {
		return nil
	}

	base, err := e.journal.Get(norm)
	if err != nil {
		return err
	}

	decision, op, agreed := classifyPath(norm, a, b, base)
	switch decision {
	case decideCleanup:
		return e.journal.Delete(norm)
	case decideAgree:
		return e.journal.Set(agreed)
	case decideNone:
		return nil
	}

	bytes, err := e.applyOperation(ctx, op)
	e.tracker.RecordAction(bytes, err != nil)
	return err
}
