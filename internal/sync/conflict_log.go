package sync

import (
	"fmt"
	"os"
	"sync"

	"github.com/mirrorsync/mirrorsync/internal/codec"
	"github.com/mirrorsync/mirrorsync/internal/utils"
)

const conflictLogKeep = 64

// ConflictLog appends every resolved conflict as one JSON line and
// keeps the most recent records in memory for the status API. The zero
// path disables the file and keeps only the in-memory window.
type ConflictLog struct {
	mu      sync.Mutex
	path    string
	recent  []*ConflictRecord
	dropped int
}

func NewConflictLog(path string) *ConflictLog {
	return &ConflictLog{path: path}
}

// Append records one conflict. File write failures are reported but do
// not lose the record: it stays visible through Recent.
func (l *ConflictLog) Append(rec *ConflictRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.recent = append(l.recent, rec)
	if len(l.recent) > conflictLogKeep {
		l.recent = l.recent[len(l.recent)-conflictLogKeep:]
		l.dropped++
	}

	if l.path == "" {
		return nil
	}

	line, err := codec.JSONMarshal(rec)
	if err != nil {
		return fmt.Errorf("encode conflict record: %w", err)
	}

	if err := utils.EnsureParent(l.path); err != nil {
		return fmt.Errorf("conflict log dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open conflict log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write conflict log: %w", err)
	}
	return nil
}

// Recent returns the newest records, most recent last.
func (l *ConflictLog) Recent() []*ConflictRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*ConflictRecord, len(l.recent))
	copy(out, l.recent)
	return out
}

// Total counts every conflict seen this run, including records that
// rolled out of the in-memory window.
func (l *ConflictLog) Total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.recent) + l.dropped
}
