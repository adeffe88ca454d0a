package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConflictMarkerPath(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		path string
		want string
	}{
		{
			name: "keeps extension after stamp",
			path: "report.txt",
			want: "report.conflict.20250301120000.txt",
		},
		{
			name: "nested path",
			path: "docs/notes/report.txt",
			want: "docs/notes/report.conflict.20250301120000.txt",
		},
		{
			name: "no extension",
			path: "Makefile",
			want: "Makefile.conflict.20250301120000",
		},
		{
			name: "multiple dots keep only the last extension",
			path: "archive.tar.gz",
			want: "archive.tar.conflict.20250301120000.gz",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ConflictMarkerPath(tt.path, at)
			assert.Equal(t, tt.want, got)

			// a preserved copy must round-trip back to its origin
			assert.True(t, IsConflictMarkerPath(got))
			assert.Equal(t, tt.path, UnmarkedPath(got))
		})
	}
}

func TestIsConflictMarkerPath(t *testing.T) {
	assert.True(t, IsConflictMarkerPath("report.conflict.20250301120000.txt"))
	assert.True(t, IsConflictMarkerPath("report.conflict.txt"))
	assert.True(t, IsConflictMarkerPath("dir/report.conflict"))

	assert.False(t, IsConflictMarkerPath("report.txt"))
	assert.False(t, IsConflictMarkerPath("conflicted-feelings.md"))
}

func TestConflictMarkerIgnoredByDefaults(t *testing.T) {
	ignore := NewIgnoreList(nil)
	at := time.Now()

	assert.True(t, ignore.ShouldIgnore(ConflictMarkerPath("report.txt", at)))
	assert.True(t, ignore.ShouldIgnore(ConflictMarkerPath("a/b/c/report.txt", at)))
	assert.False(t, ignore.ShouldIgnore("report.txt"))
}
