package sync

import (
	"path/filepath"
	"testing"
	"time"
)

func TestSyncJournal_SetGetDelete(t *testing.T) {
	j := NewSyncJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err := j.Open(); err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	rec := &SyncedRecord{
		Path:         "docs/a.txt",
		DigestA:      "aaa",
		DigestB:      "bbb",
		Size:         10,
		LastSyncedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := j.Set(rec); err != nil {
		t.Fatal(err)
	}

	got, err := j.Get("docs/a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected record after Set")
	}
	if got.DigestA != "aaa" || got.DigestB != "bbb" || got.Size != 10 {
		t.Fatalf("record mismatch: %+v", got)
	}
	if !got.LastSyncedAt.Equal(rec.LastSyncedAt) {
		t.Fatalf("timestamp mismatch: got %v want %v", got.LastSyncedAt, rec.LastSyncedAt)
	}

	got, err = j.Get("never/synced.txt")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("expected nil for unknown path")
	}

	if err := j.Delete("docs/a.txt"); err != nil {
		t.Fatal(err)
	}
	got, err = j.Get("docs/a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("expected nil after Delete")
	}

	// evicting twice is fine
	if err := j.Delete("docs/a.txt"); err != nil {
		t.Fatal(err)
	}
}

func TestSyncJournal_SetReplaces(t *testing.T) {
	j := NewSyncJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err := j.Open(); err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	base := &SyncedRecord{Path: "x.txt", DigestA: "v1", DigestB: "v1", Size: 1, LastSyncedAt: time.Now()}
	if err := j.Set(base); err != nil {
		t.Fatal(err)
	}
	base.DigestA, base.DigestB = "v2", "v2"
	if err := j.Set(base); err != nil {
		t.Fatal(err)
	}

	got, err := j.Get("x.txt")
	if err != nil {
		t.Fatal(err)
	}
	if got.DigestA != "v2" {
		t.Fatalf("expected replaced digest, got %s", got.DigestA)
	}

	count, err := j.Count()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}
}

func TestSyncJournal_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")

	j := NewSyncJournal(dbPath)
	if err := j.Open(); err != nil {
		t.Fatal(err)
	}
	rec := &SyncedRecord{Path: "keep.txt", DigestA: "d", DigestB: "d", Size: 4, LastSyncedAt: time.Now()}
	if err := j.Set(rec); err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	j = NewSyncJournal(dbPath)
	if err := j.Open(); err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	got, err := j.Get("keep.txt")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.DigestA != "d" {
		t.Fatalf("record lost across reopen: %+v", got)
	}
}

func TestSyncJournal_State(t *testing.T) {
	j := NewSyncJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err := j.Open(); err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	paths := []string{"a.txt", "b/c.txt", "d/e/f.txt"}
	for _, p := range paths {
		rec := &SyncedRecord{Path: p, DigestA: "x", DigestB: "x", LastSyncedAt: time.Now()}
		if err := j.Set(rec); err != nil {
			t.Fatal(err)
		}
	}

	state, err := j.State()
	if err != nil {
		t.Fatal(err)
	}
	if len(state) != len(paths) {
		t.Fatalf("expected %d rows, got %d", len(paths), len(state))
	}
	for _, p := range paths {
		if state[p] == nil {
			t.Fatalf("missing row for %s", p)
		}
	}
}
