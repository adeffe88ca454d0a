package sync

// BatchWrite collects create/update operations keyed by path.
type BatchWrite map[string]*SyncOperation

// BatchDelete collects delete operations keyed by path.
type BatchDelete map[string]*SyncOperation

// BatchConflict collects resolved conflicts keyed by path.
type BatchConflict map[string]*SyncOperation

// BatchPaths is a plain path set for decisions that need no I/O.
type BatchPaths map[string]struct{}

// ReconcilePlan is the outcome of classifying every path in the union
// of listing A, listing B, and the journal. Writes and deletes are
// grouped per target side; Agreements are paths where both sides
// already hold identical content and only the journal needs refreshing;
// Cleanups are paths deleted on both sides whose journal rows can go.
type ReconcilePlan struct {
	WritesA    BatchWrite
	WritesB    BatchWrite
	DeletesA   BatchDelete
	DeletesB   BatchDelete
	Conflicts  BatchConflict
	Agreements map[string]*SyncedRecord
	Cleanups   BatchPaths
	Unchanged  BatchPaths
	Ignored    BatchPaths
	Deferred   BatchPaths // paths waiting out a retry backoff
}

func NewReconcilePlan() *ReconcilePlan {
	return &ReconcilePlan{
		WritesA:    make(BatchWrite),
		WritesB:    make(BatchWrite),
		DeletesA:   make(BatchDelete),
		DeletesB:   make(BatchDelete),
		Conflicts:  make(BatchConflict),
		Agreements: make(map[string]*SyncedRecord),
		Cleanups:   make(BatchPaths),
		Unchanged:  make(BatchPaths),
		Ignored:    make(BatchPaths),
		Deferred:   make(BatchPaths),
	}
}

// HasChanges reports whether executing the plan would touch either
// location or the journal.
func (p *ReconcilePlan) HasChanges() bool {
	return len(p.WritesA) > 0 ||
		len(p.WritesB) > 0 ||
		len(p.DeletesA) > 0 ||
		len(p.DeletesB) > 0 ||
		len(p.Conflicts) > 0 ||
		len(p.Agreements) > 0 ||
		len(p.Cleanups) > 0
}

// ActionCount is the number of operations that will issue location I/O.
func (p *ReconcilePlan) ActionCount() int {
	return len(p.WritesA) + len(p.WritesB) +
		len(p.DeletesA) + len(p.DeletesB) +
		len(p.Conflicts)
}

// operations flattens the plan's actionable batches into one slice.
func (p *ReconcilePlan) operations() []*SyncOperation {
	ops := make([]*SyncOperation, 0, p.ActionCount())
	for _, batch := range []map[string]*SyncOperation{
		p.DeletesA, p.DeletesB, p.WritesA, p.WritesB, p.Conflicts,
	} {
		for _, op := range batch {
			ops = append(ops, op)
		}
	}
	return ops
}
