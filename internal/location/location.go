package location

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Kind classifies what a path currently holds.
type Kind string

const (
	KindFile   Kind = "file"
	KindDir    Kind = "directory"
	KindAbsent Kind = "absent"
)

// FileRecord is one path's observed state at a point in time.
// Digest is the hex MD5 of the content, empty for directories.
type FileRecord struct {
	Path    string    `json:"path"`
	Digest  string    `json:"digest,omitempty"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
	Kind    Kind      `json:"kind"`
}

// Present reports whether the path exists on the location.
func (r FileRecord) Present() bool {
	return r.Kind == KindFile || r.Kind == KindDir
}

// SameContent reports whether two records hold identical file content.
// Digest is the sole signal; size and mtime are not consulted.
func (r FileRecord) SameContent(o FileRecord) bool {
	return r.Kind == KindFile && o.Kind == KindFile && r.Digest == o.Digest
}

// Location is one side of a sync pair. Implementations perform the
// storage I/O; they never decide what to sync.
type Location interface {
	// String returns a loggable form of the connection string.
	// Credentials are masked.
	String() string

	// List returns every file under the root, sorted by path, with
	// content digests populated. Directories are implied by file paths
	// and not listed.
	List(ctx context.Context) ([]FileRecord, error)

	// Stat returns the current state of a single path. An absent path
	// yields Kind == KindAbsent with a nil error.
	Stat(ctx context.Context, path string) (FileRecord, error)

	// Read returns the file content. A path that vanished since the
	// last listing fails with ErrNotFound.
	Read(ctx context.Context, path string) ([]byte, error)

	// Write stores content at path, creating parents as needed.
	// The write is atomic: no concurrent List or Read on the same
	// location observes a partially written file.
	Write(ctx context.Context, path string, content []byte) error

	// Delete removes the path. Deleting an absent path is a no-op so
	// retried deletes stay idempotent.
	Delete(ctx context.Context, path string) error

	// Close releases any held connections or locks.
	Close() error
}

// Watchable is implemented by locations that support native change
// notifications. Everything else is observed by polling.
type Watchable interface {
	WatchRoot() string
}

// Error taxonomy. Every failed operation wraps exactly one of these
// sentinels inside an *OpError so callers can pick a backoff policy
// with errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrAccess     = errors.New("access denied")
	ErrConnection = errors.New("connection failed")
	ErrTimeout    = errors.New("timed out")
)

// OpError records the operation, location, and path of a failure.
type OpError struct {
	Op   string // "list", "stat", "read", "write", "delete"
	Loc  string // Location.String() of the failing side
	Path string // relative path, empty for list
	Err  error
}

func (e *OpError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Loc, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Op, e.Loc, e.Path, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func opError(op, loc, path string, err error) *OpError {
	return &OpError{Op: op, Loc: loc, Path: path, Err: err}
}

// wrapSentinel pairs the taxonomy sentinel with the underlying cause
// so both survive errors.Is checks.
func wrapSentinel(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}

// ctxSentinel maps a context error to the taxonomy. Deadline excess is
// a timeout; plain cancellation passes through untranslated.
func ctxSentinel(ctx context.Context) error {
	if err := ctx.Err(); errors.Is(err, context.DeadlineExceeded) {
		return wrapSentinel(ErrTimeout, err)
	}
	return ctx.Err()
}

// NormPath canonicalizes p into the relative slash-separated form used
// in listings and the journal. Paths escaping the root are rejected.
func NormPath(p string) (string, error) {
	p = filepath.ToSlash(strings.TrimSpace(p))
	p = strings.TrimPrefix(p, "/")
	p = path.Clean(p)
	if p == "." || p == "" {
		return "", errors.New("empty path")
	}
	if p == ".." || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("path escapes root: %q", p)
	}
	return p, nil
}

// SortRecords orders a listing by path, the order every List
// implementation must return.
func SortRecords(records []FileRecord) {
	slices.SortFunc(records, func(a, b FileRecord) int {
		return strings.Compare(a.Path, b.Path)
	})
}
