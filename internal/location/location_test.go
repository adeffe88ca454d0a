package location

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "a.txt", want: "a.txt"},
		{in: "docs/a.txt", want: "docs/a.txt"},
		{in: "/docs/a.txt", want: "docs/a.txt"},
		{in: "docs//a.txt", want: "docs/a.txt"},
		{in: "docs/./a.txt", want: "docs/a.txt"},
		{in: "docs/sub/../a.txt", want: "docs/a.txt"},
		{in: "  padded.txt ", want: "padded.txt"},
		{in: `windows\style.txt`, want: "windows/style.txt"},
		{in: "", wantErr: true},
		{in: ".", wantErr: true},
		{in: "/", wantErr: true},
		{in: "..", wantErr: true},
		{in: "../escape.txt", wantErr: true},
		{in: "docs/../../escape.txt", wantErr: true},
	}

	for _, tt := range tests {
		got, err := NormPath(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "NormPath(%q)", tt.in)
			continue
		}
		assert.NoError(t, err, "NormPath(%q)", tt.in)
		assert.Equal(t, tt.want, got, "NormPath(%q)", tt.in)
	}
}

func TestFileRecord_Present(t *testing.T) {
	assert.True(t, FileRecord{Kind: KindFile}.Present())
	assert.True(t, FileRecord{Kind: KindDir}.Present())
	assert.False(t, FileRecord{Kind: KindAbsent}.Present())
	assert.False(t, FileRecord{}.Present())
}

func TestFileRecord_SameContent(t *testing.T) {
	now := time.Now()
	a := FileRecord{Path: "x", Digest: "d1", Size: 5, ModTime: now, Kind: KindFile}

	// digest decides, size and mtime do not
	b := FileRecord{Path: "x", Digest: "d1", Size: 99, ModTime: now.Add(time.Hour), Kind: KindFile}
	assert.True(t, a.SameContent(b))

	b.Digest = "d2"
	assert.False(t, a.SameContent(b))

	absent := FileRecord{Path: "x", Kind: KindAbsent}
	assert.False(t, a.SameContent(absent))
	assert.False(t, absent.SameContent(absent), "two absences are not same content")
}

func TestSortRecords(t *testing.T) {
	records := []FileRecord{
		{Path: "b/z.txt"},
		{Path: "a.txt"},
		{Path: "b/a.txt"},
	}
	SortRecords(records)
	assert.Equal(t, "a.txt", records[0].Path)
	assert.Equal(t, "b/a.txt", records[1].Path)
	assert.Equal(t, "b/z.txt", records[2].Path)
}

func TestOpError(t *testing.T) {
	err := opError("read", "folder:/tmp/x", "a.txt", wrapSentinel(ErrNotFound, errors.New("gone")))

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "read")
	assert.Contains(t, err.Error(), "a.txt")

	var opErr *OpError
	assert.True(t, errors.As(err, &opErr))
	assert.Equal(t, "read", opErr.Op)

	listErr := opError("list", "folder:/tmp/x", "", ErrConnection)
	assert.NotContains(t, listErr.Error(), "  ", "no double space when path is empty")
	assert.True(t, errors.Is(listErr, ErrConnection))
}
