package sync

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

// ConflictMarker is the suffix spliced into a filename when the losing
// copy of a conflict is preserved. Plain dot-suffixes keep the names
// command-line friendly.
const ConflictMarker = ".conflict"

// markerStampFormat timestamps preserved copies so repeated conflicts
// on the same path never collide and sort lexicographically by time.
const markerStampFormat = "20060102150405"

var markerRegex = regexp.MustCompile(regexp.QuoteMeta(ConflictMarker) + `(\.\d{14})?`)

// ConflictMarkerPath builds the preserved-copy name for path at time t.
// "report.txt" becomes "report.conflict.20250301120000.txt"; the suffix
// stays next to the base name so the original extension survives.
func ConflictMarkerPath(p string, t time.Time) string {
	ext := path.Ext(p)
	base := strings.TrimSuffix(p, ext)
	return fmt.Sprintf("%s%s.%s%s", base, ConflictMarker, t.Format(markerStampFormat), ext)
}

// IsConflictMarkerPath reports whether p names a preserved conflict
// copy, stamped or not.
func IsConflictMarkerPath(p string) bool {
	return markerRegex.MatchString(p)
}

// UnmarkedPath strips the conflict marker and stamp from p, recovering
// the path the copy was preserved from.
func UnmarkedPath(p string) string {
	return markerRegex.ReplaceAllString(p, "")
}
