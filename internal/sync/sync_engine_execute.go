package sync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/mirrorsync/mirrorsync/internal/location"
	"github.com/mirrorsync/mirrorsync/internal/queue"
)

// errPathBusy marks an operation skipped because another action on the
// same path was still in flight. Not a failure; the path reconciles on
// the next pass.
var errPathBusy = errors.New("path has an action in flight")

// executePlan applies the plan: journal-only work first, then the
// location operations in phase order. Deletes complete before creates
// start and creates before updates, so a name freed by a delete can be
// reused in the same cycle.
func (e *SyncEngine) executePlan(ctx context.Context, plan *ReconcilePlan, stats *CycleStats) {
	for path, rec := range plan.Agreements {
		if err := e.journal.Set(rec); err != nil {
			slog.Error("journal agreement", "path", path, "error", err)
		} else {
			slog.Debug("journal agreement", "path", path)
		}
	}
	for path := range plan.Cleanups {
		if err := e.journal.Delete(path); err != nil {
			slog.Error("journal cleanup", "path", path, "error", err)
		} else {
			slog.Debug("journal evict, deleted on both sides", "path", path)
		}
	}

	ops := plan.operations()
	if len(ops) == 0 {
		return
	}

	pq := queue.NewPriorityQueue[*SyncOperation]()
	for _, op := range ops {
		pq.Enqueue(op, op.phase())
	}

	var mu sync.Mutex
	apply := func(op *SyncOperation) {
		bytes, err := e.applyOperation(ctx, op)

		mu.Lock()
		defer mu.Unlock()
		if errors.Is(err, errPathBusy) {
			stats.Deferred++
			return
		}
		stats.Actions++
		stats.BytesCopied += bytes
		if err != nil {
			stats.Failed++
			return
		}
		switch op.Op {
		case OpCreate:
			stats.Creates++
		case OpUpdate:
			stats.Updates++
		case OpDelete:
			stats.Deletes++
		case OpConflict:
			stats.Conflicts++
		}
	}

	for {
		wave, _, ok := pq.DequeueWave()
		if !ok {
			return
		}

		eg := new(errgroup.Group)
		eg.SetLimit(e.workers)
		for _, op := range wave {
			op := op
			eg.Go(func() error {
				apply(op)
				return nil
			})
		}
		_ = eg.Wait()

		if ctx.Err() != nil {
			// Shutdown between phases: leave the rest for the next run.
			mu.Lock()
			stats.Deferred += pq.Len()
			mu.Unlock()
			return
		}
	}
}

// applyOperation claims the path, runs the op under its own deadline,
// and updates the retry tracker. An operation that has started is
// never cancelled mid-write; its context is detached from the cycle
// so shutdown drains instead of tearing half-written state.
func (e *SyncEngine) applyOperation(parent context.Context, op *SyncOperation) (int64, error) {
	if !e.tracker.TryClaim(op.Path) {
		slog.Debug("skip, action in flight", "path", op.Path)
		return 0, errPathBusy
	}
	defer e.tracker.Release(op.Path)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), e.opTimeout)
	defer cancel()

	var bytes int64
	var err error
	switch op.Op {
	case OpDelete:
		err = e.applyDelete(ctx, op)
	case OpCreate, OpUpdate:
		bytes, err = e.applyWrite(ctx, op)
	case OpConflict:
		bytes, err = e.applyConflict(ctx, op)
	default:
		err = errors.New("unknown operation " + string(op.Op))
	}

	if err != nil {
		delay := e.retries.Bump(op.Path, err)
		slog.Error("sync failed",
			"op", op.Op,
			"target", op.Target,
			"path", op.Path,
			"retryIn", delay,
			"error", err,
		)
		return bytes, err
	}
	e.retries.Reset(op.Path)
	return bytes, nil
}

// applyDelete removes the path on the target side and evicts the
// journal row. A target that is already gone counts as success.
func (e *SyncEngine) applyDelete(ctx context.Context, op *SyncOperation) error {
	target := e.side(op.Target)
	if err := target.Delete(ctx, op.Path); err != nil && !errors.Is(err, location.ErrNotFound) {
		return err
	}
	e.echo(op.Target, op.Path)

	if err := e.journal.Delete(op.Path); err != nil {
		return err
	}
	slog.Info("sync", "op", op.Op, "target", op.Target, "path", op.Path)
	return nil
}

// applyWrite copies the path from the source side onto the target and
// journals the digest both sides now share. The digest is recomputed
// from the bytes actually copied, so a source modified after listing
// is journaled as what landed, not what was observed.
func (e *SyncEngine) applyWrite(ctx context.Context, op *SyncOperation) (int64, error) {
	source := e.side(op.Target.Opposite())
	target := e.side(op.Target)

	content, err := source.Read(ctx, op.Path)
	if err != nil {
		if errors.Is(err, location.ErrNotFound) {
			// Vanished between listing and copy. The next cycle sees the
			// deletion and classifies it properly.
			slog.Debug("source vanished before copy", "path", op.Path, "source", source.String())
			return 0, nil
		}
		return 0, err
	}

	if err := target.Write(ctx, op.Path, content); err != nil {
		return 0, err
	}
	e.echo(op.Target, op.Path)

	digest := location.DigestBytes(content)
	rec := &SyncedRecord{
		Path:         op.Path,
		DigestA:      digest,
		DigestB:      digest,
		Size:         int64(len(content)),
		LastSyncedAt: time.Now().UTC(),
	}
	if err := e.journal.Set(rec); err != nil {
		return int64(len(content)), err
	}

	slog.Info("sync",
		"op", op.Op,
		"target", op.Target,
		"path", op.Path,
		"size", humanize.Bytes(uint64(len(content))),
	)
	return int64(len(content)), nil
}
