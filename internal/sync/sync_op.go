package sync

import (
	"fmt"

	"github.com/mirrorsync/mirrorsync/internal/location"
)

// Side names one half of the sync pair. SideA is the first location on
// the command line and wins deterministic tie-breaks.
type Side string

const (
	SideA Side = "A"
	SideB Side = "B"
)

// Opposite returns the other half of the pair.
func (s Side) Opposite() Side {
	if s == SideA {
		return SideB
	}
	return SideA
}

// OpType classifies a reconcile decision for one path.
type OpType string

const (
	OpCreate   OpType = "Create"
	OpUpdate   OpType = "Update"
	OpDelete   OpType = "Delete"
	OpConflict OpType = "Conflict"
)

// Execution phases. Deletes run first so a path freed by a delete can
// be reused by a create in the same cycle, then creates, then updates.
const (
	phaseDelete = iota
	phaseCreate
	phaseUpdate
)

// SyncOperation is one action the engine decided on: apply Op at Path
// on the Target side, sourcing content from the opposite side for
// writes. A and B carry the records observed when the decision was
// made; Baseline is the journal row, nil for paths never synced.
type SyncOperation struct {
	Op       OpType
	Target   Side
	Path     string
	A        location.FileRecord
	B        location.FileRecord
	Baseline *SyncedRecord

	// Conflict is set when Op == OpConflict and names the resolution.
	Conflict *ConflictRecord
}

func (op *SyncOperation) String() string {
	return fmt.Sprintf("%s(%s, %s)", op.Op, op.Target, op.Path)
}

// SourceRecord returns the record whose content the operation copies,
// the record on the side opposite to Target.
func (op *SyncOperation) SourceRecord() location.FileRecord {
	if op.Target == SideA {
		return op.B
	}
	return op.A
}

// TargetRecord returns the record currently observed on the target.
func (op *SyncOperation) TargetRecord() location.FileRecord {
	if op.Target == SideA {
		return op.A
	}
	return op.B
}

// phase maps the op onto its execution wave.
func (op *SyncOperation) phase() int {
	switch op.Op {
	case OpDelete:
		return phaseDelete
	case OpCreate:
		return phaseCreate
	default:
		// Updates and conflict rewrites overwrite in place.
		return phaseUpdate
	}
}
