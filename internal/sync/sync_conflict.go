package sync

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mirrorsync/mirrorsync/internal/location"
)

// Resolution rules. The rule name is recorded on every ConflictRecord
// so a log reader can tell why a side won.
const (
	RuleLastWriter       = "last-writer-wins"
	RuleTieBreak         = "timestamp-tie-side-a"
	RuleModifyOverDelete = "modify-over-delete"
)

// ConflictRecord documents one divergent change: both sides moved away
// from the baseline and disagree. The record names the winner and keeps
// both candidate states so the losing version is never dropped
// silently.
type ConflictRecord struct {
	ID         uuid.UUID           `json:"id"`
	Path       string              `json:"path"`
	Winner     Side                `json:"winner"`
	Rule       string              `json:"rule"`
	A          location.FileRecord `json:"a"`
	B          location.FileRecord `json:"b"`
	DetectedAt time.Time           `json:"detectedAt"`

	// PreservedAs is filled in after execution when the losing copy was
	// rotated to a conflict marker on the losing side.
	PreservedAs string `json:"preservedAs,omitempty"`
}

func (c *ConflictRecord) String() string {
	return fmt.Sprintf("conflict %s: %s wins by %s", c.Path, c.Winner, c.Rule)
}

// Loser returns the side whose copy is overwritten.
func (c *ConflictRecord) Loser() Side {
	return c.Winner.Opposite()
}

// resolveConflict picks the winning side for a path both sides changed.
// Modification time is only a tie-breaker between two live copies;
// digests already established that the contents differ. A delete never
// beats a live copy, and an exact timestamp tie deterministically goes
// to side A so repeated runs resolve the same way.
func resolveConflict(path string, a, b location.FileRecord) *ConflictRecord {
	rec := &ConflictRecord{
		ID:         uuid.New(),
		Path:       path,
		A:          a,
		B:          b,
		DetectedAt: time.Now().UTC(),
	}

	switch {
	case !a.Present():
		rec.Winner, rec.Rule = SideB, RuleModifyOverDelete
	case !b.Present():
		rec.Winner, rec.Rule = SideA, RuleModifyOverDelete
	case a.ModTime.After(b.ModTime):
		rec.Winner, rec.Rule = SideA, RuleLastWriter
	case b.ModTime.After(a.ModTime):
		rec.Winner, rec.Rule = SideB, RuleLastWriter
	default:
		rec.Winner, rec.Rule = SideA, RuleTieBreak
	}
	return rec
}
