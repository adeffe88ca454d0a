package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mirrorsync/mirrorsync/internal/location"
)

var (
	t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	t1 = t0.Add(1 * time.Minute)
	t2 = t0.Add(2 * time.Minute)
)

func fr(path, content string, at time.Time) location.FileRecord {
	return location.FileRecord{
		Path:    path,
		Digest:  location.DigestBytes([]byte(content)),
		Size:    int64(len(content)),
		ModTime: at,
		Kind:    location.KindFile,
	}
}

func jr(path, contentA, contentB string) *SyncedRecord {
	return &SyncedRecord{
		Path:         path,
		DigestA:      location.DigestBytes([]byte(contentA)),
		DigestB:      location.DigestBytes([]byte(contentB)),
		Size:         int64(len(contentA)),
		LastSyncedAt: t0,
	}
}

func TestSyncEngine_Reconcile_TableDriven(t *testing.T) {
	se := &SyncEngine{
		ignore:  NewIgnoreList(nil),
		retries: newRetryTracker(),
		tracker: NewSyncTracker("a", "b"),
	}

	cases := []struct {
		name    string
		stateA  map[string]location.FileRecord
		stateB  map[string]location.FileRecord
		journal map[string]*SyncedRecord
		expect  func(t *testing.T, plan *ReconcilePlan)
	}{
		{
			name:    "created on a copies to b",
			stateA:  map[string]location.FileRecord{"x.txt": fr("x.txt", "one", t1)},
			stateB:  map[string]location.FileRecord{},
			journal: map[string]*SyncedRecord{},
			expect: func(t *testing.T, plan *ReconcilePlan) {
				assert.Len(t, plan.WritesB, 1)
				assert.Equal(t, OpCreate, plan.WritesB["x.txt"].Op)
				assert.Equal(t, SideB, plan.WritesB["x.txt"].Target)
			},
		},
		{
			name:    "created on b copies to a",
			stateA:  map[string]location.FileRecord{},
			stateB:  map[string]location.FileRecord{"x.txt": fr("x.txt", "one", t1)},
			journal: map[string]*SyncedRecord{},
			expect: func(t *testing.T, plan *ReconcilePlan) {
				assert.Len(t, plan.WritesA, 1)
				assert.Equal(t, OpCreate, plan.WritesA["x.txt"].Op)
			},
		},
		{
			name:    "modified on a updates b",
			stateA:  map[string]location.FileRecord{"x.txt": fr("x.txt", "two", t1)},
			stateB:  map[string]location.FileRecord{"x.txt": fr("x.txt", "one", t0)},
			journal: map[string]*SyncedRecord{"x.txt": jr("x.txt", "one", "one")},
			expect: func(t *testing.T, plan *ReconcilePlan) {
				assert.Len(t, plan.WritesB, 1)
				assert.Equal(t, OpUpdate, plan.WritesB["x.txt"].Op)
			},
		},
		{
			name:    "modified on b updates a",
			stateA:  map[string]location.FileRecord{"x.txt": fr("x.txt", "one", t0)},
			stateB:  map[string]location.FileRecord{"x.txt": fr("x.txt", "two", t1)},
			journal: map[string]*SyncedRecord{"x.txt": jr("x.txt", "one", "one")},
			expect: func(t *testing.T, plan *ReconcilePlan) {
				assert.Len(t, plan.WritesA, 1)
				assert.Equal(t, OpUpdate, plan.WritesA["x.txt"].Op)
			},
		},
		{
			name:    "deleted on a deletes b",
			stateA:  map[string]location.FileRecord{},
			stateB:  map[string]location.FileRecord{"x.txt": fr("x.txt", "one", t0)},
			journal: map[string]*SyncedRecord{"x.txt": jr("x.txt", "one", "one")},
			expect: func(t *testing.T, plan *ReconcilePlan) {
				assert.Len(t, plan.DeletesB, 1)
				assert.Equal(t, OpDelete, plan.DeletesB["x.txt"].Op)
			},
		},
		{
			name:    "deleted on b deletes a",
			stateA:  map[string]location.FileRecord{"x.txt": fr("x.txt", "one", t0)},
			stateB:  map[string]location.FileRecord{},
			journal: map[string]*SyncedRecord{"x.txt": jr("x.txt", "one", "one")},
			expect: func(t *testing.T, plan *ReconcilePlan) {
				assert.Len(t, plan.DeletesA, 1)
				assert.Equal(t, OpDelete, plan.DeletesA["x.txt"].Op)
			},
		},
		{
			name:    "unchanged stays unchanged",
			stateA:  map[string]location.FileRecord{"x.txt": fr("x.txt", "one", t0)},
			stateB:  map[string]location.FileRecord{"x.txt": fr("x.txt", "one", t0)},
			journal: map[string]*SyncedRecord{"x.txt": jr("x.txt", "one", "one")},
			expect: func(t *testing.T, plan *ReconcilePlan) {
				assert.False(t, plan.HasChanges())
				assert.Contains(t, plan.Unchanged, "x.txt")
			},
		},
		{
			name:    "both modified differently is a conflict",
			stateA:  map[string]location.FileRecord{"x.txt": fr("x.txt", "from-a", t1)},
			stateB:  map[string]location.FileRecord{"x.txt": fr("x.txt", "from-b", t2)},
			journal: map[string]*SyncedRecord{"x.txt": jr("x.txt", "one", "one")},
			expect: func(t *testing.T, plan *ReconcilePlan) {
				assert.Len(t, plan.Conflicts, 1)
				op := plan.Conflicts["x.txt"]
				assert.Equal(t, OpConflict, op.Op)
				assert.Equal(t, SideB, op.Conflict.Winner)
				assert.Equal(t, RuleLastWriter, op.Conflict.Rule)
				assert.Equal(t, SideA, op.Target)
			},
		},
		{
			name:    "timestamp tie goes to side a",
			stateA:  map[string]location.FileRecord{"x.txt": fr("x.txt", "from-a", t1)},
			stateB:  map[string]location.FileRecord{"x.txt": fr("x.txt", "from-b", t1)},
			journal: map[string]*SyncedRecord{"x.txt": jr("x.txt", "one", "one")},
			expect: func(t *testing.T, plan *ReconcilePlan) {
				assert.Len(t, plan.Conflicts, 1)
				op := plan.Conflicts["x.txt"]
				assert.Equal(t, SideA, op.Conflict.Winner)
				assert.Equal(t, RuleTieBreak, op.Conflict.Rule)
			},
		},
		{
			name:    "concurrent create with different content is a conflict",
			stateA:  map[string]location.FileRecord{"x.txt": fr("x.txt", "from-a", t2)},
			stateB:  map[string]location.FileRecord{"x.txt": fr("x.txt", "from-b", t1)},
			journal: map[string]*SyncedRecord{},
			expect: func(t *testing.T, plan *ReconcilePlan) {
				assert.Len(t, plan.Conflicts, 1)
				assert.Equal(t, SideA, plan.Conflicts["x.txt"].Conflict.Winner)
			},
		},
		{
			name:    "delete versus modify keeps the modification",
			stateA:  map[string]location.FileRecord{"x.txt": fr("x.txt", "newer", t1)},
			stateB:  map[string]location.FileRecord{},
			journal: map[string]*SyncedRecord{"x.txt": jr("x.txt", "one", "one")},
			expect: func(t *testing.T, plan *ReconcilePlan) {
				assert.Len(t, plan.Conflicts, 1)
				op := plan.Conflicts["x.txt"]
				assert.Equal(t, SideA, op.Conflict.Winner)
				assert.Equal(t, RuleModifyOverDelete, op.Conflict.Rule)
				assert.Equal(t, SideB, op.Target)
			},
		},
		{
			name:    "both deleted cleans the journal",
			stateA:  map[string]location.FileRecord{},
			stateB:  map[string]location.FileRecord{},
			journal: map[string]*SyncedRecord{"x.txt": jr("x.txt", "one", "one")},
			expect: func(t *testing.T, plan *ReconcilePlan) {
				assert.Contains(t, plan.Cleanups, "x.txt")
				assert.Empty(t, plan.Conflicts)
			},
		},
		{
			name:    "identical content without baseline is an agreement",
			stateA:  map[string]location.FileRecord{"x.txt": fr("x.txt", "same", t1)},
			stateB:  map[string]location.FileRecord{"x.txt": fr("x.txt", "same", t2)},
			journal: map[string]*SyncedRecord{},
			expect: func(t *testing.T, plan *ReconcilePlan) {
				assert.Len(t, plan.Agreements, 1)
				assert.Empty(t, plan.Conflicts)
				rec := plan.Agreements["x.txt"]
				assert.Equal(t, rec.DigestA, rec.DigestB)
			},
		},
		{
			name:    "both modified to same content refreshes the journal",
			stateA:  map[string]location.FileRecord{"x.txt": fr("x.txt", "same", t1)},
			stateB:  map[string]location.FileRecord{"x.txt": fr("x.txt", "same", t2)},
			journal: map[string]*SyncedRecord{"x.txt": jr("x.txt", "old", "old")},
			expect: func(t *testing.T, plan *ReconcilePlan) {
				assert.Len(t, plan.Agreements, 1)
				assert.Empty(t, plan.Conflicts)
			},
		},
		{
			name:    "conflict markers are ignored",
			stateA:  map[string]location.FileRecord{"x.conflict.20250301120000.txt": fr("x.conflict.20250301120000.txt", "old", t0)},
			stateB:  map[string]location.FileRecord{},
			journal: map[string]*SyncedRecord{},
			expect: func(t *testing.T, plan *ReconcilePlan) {
				assert.Contains(t, plan.Ignored, "x.conflict.20250301120000.txt")
				assert.False(t, plan.HasChanges())
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan := se.reconcile(tc.stateA, tc.stateB, tc.journal)
			tc.expect(t, plan)
		})
	}
}

func TestSyncEngine_Reconcile_DefersRetryingPaths(t *testing.T) {
	se := &SyncEngine{
		ignore:  NewIgnoreList(nil),
		retries: newRetryTracker(),
		tracker: NewSyncTracker("a", "b"),
	}
	se.retries.Bump("x.txt", assert.AnError)

	plan := se.reconcile(
		map[string]location.FileRecord{"x.txt": fr("x.txt", "one", t1)},
		map[string]location.FileRecord{},
		map[string]*SyncedRecord{},
	)

	assert.Contains(t, plan.Deferred, "x.txt")
	assert.Empty(t, plan.WritesB)
}
