package sync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mirrorsync/mirrorsync/internal/location"
)

// applyConflict resolves a divergence: the losing copy is preserved
// under a conflict marker on its own side, then the winning content is
// written over it. The loser is never silently discarded.
//
// The winner is always a present record (an absent side cannot win a
// conflict), so reading it is safe; a winner that vanished in between
// is treated like a vanished write source.
func (e *SyncEngine) applyConflict(ctx context.Context, op *SyncOperation) (int64, error) {
	rec := op.Conflict
	winner := e.side(rec.Winner)
	loser := e.side(rec.Loser())

	if op.TargetRecord().Present() {
		preserved, err := e.preserveLoser(ctx, rec.Loser(), op.Path, rec.DetectedAt)
		if err != nil {
			return 0, err
		}
		rec.PreservedAs = preserved
	}

	content, err := winner.Read(ctx, op.Path)
	if err != nil {
		if errors.Is(err, location.ErrNotFound) {
			slog.Debug("conflict winner vanished before copy", "path", op.Path, "winner", rec.Winner)
			return 0, nil
		}
		return 0, err
	}

	if err := loser.Write(ctx, op.Path, content); err != nil {
		return 0, err
	}
	e.echo(rec.Loser(), op.Path)

	digest := location.DigestBytes(content)
	synced := &SyncedRecord{
		Path:         op.Path,
		DigestA:      digest,
		DigestB:      digest,
		Size:         int64(len(content)),
		LastSyncedAt: time.Now().UTC(),
	}
	if err := e.journal.Set(synced); err != nil {
		return int64(len(content)), err
	}

	if err := e.conflicts.Append(rec); err != nil {
		slog.Error("conflict log append", "path", op.Path, "error", err)
	}
	slog.Warn("sync conflict resolved",
		"path", op.Path,
		"winner", rec.Winner,
		"rule", rec.Rule,
		"preservedAs", rec.PreservedAs,
	)
	return int64(len(content)), nil
}

// preserveLoser copies the losing version to a timestamped conflict
// marker next to the original, on the losing side. Marker paths match
// the default ignore rules, so they never propagate to the other side.
// Returns the marker path, or "" when the loser vanished first.
func (e *SyncEngine) preserveLoser(ctx context.Context, side Side, path string, at time.Time) (string, error) {
	loc := e.side(side)

	content, err := loc.Read(ctx, path)
	if err != nil {
		if errors.Is(err, location.ErrNotFound) {
			return "", nil
		}
		return "", err
	}

	marked := ConflictMarkerPath(path, at)
	if err := loc.Write(ctx, marked, content); err != nil {
		return "", err
	}
	e.echo(side, marked)

	slog.Info("conflict copy preserved", "side", side, "path", path, "as", marked)
	return marked, nil
}
