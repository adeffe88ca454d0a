package location

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mirrorsync/mirrorsync/internal/utils"
)

// tmpPrefix marks in-flight write artifacts. Listings skip these so a
// concurrent List never observes a half-written file.
const tmpPrefix = ".msync-tmp."

// Folder is a Location backed by a directory tree on the local
// filesystem. Writes are temp-file-plus-rename atomic; change
// notifications are available through WatchRoot.
type Folder struct {
	root  string
	cache *DigestCache
}

var _ Location = (*Folder)(nil)
var _ Watchable = (*Folder)(nil)

func NewFolder(root string) (*Folder, error) {
	abs, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}
	return &Folder{
		root:  abs,
		cache: NewDigestCache(0, 0),
	}, nil
}

func (f *Folder) String() string {
	return "folder:" + f.root
}

// WatchRoot exposes the directory for the event-driven observer.
func (f *Folder) WatchRoot() string {
	return f.root
}

func (f *Folder) List(ctx context.Context) ([]FileRecord, error) {
	var records []FileRecord

	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return ctxSentinel(ctx)
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if strings.HasPrefix(d.Name(), tmpPrefix) {
			return nil
		}

		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			// Vanished mid-walk. It will show up next cycle if it
			// still exists.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}

		rec, err := f.fileRecord(filepath.ToSlash(rel), p, info)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, opError("list", f.String(), "", classifyFsErr(err))
	}

	SortRecords(records)
	return records, nil
}

func (f *Folder) Stat(ctx context.Context, path string) (FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return FileRecord{}, opError("stat", f.String(), path, ctxSentinel(ctx))
	}
	rel, abs, err := f.resolve(path)
	if err != nil {
		return FileRecord{}, opError("stat", f.String(), path, err)
	}

	info, err := os.Stat(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return FileRecord{Path: rel, Kind: KindAbsent}, nil
	case err != nil:
		return FileRecord{}, opError("stat", f.String(), rel, classifyFsErr(err))
	case info.IsDir():
		return FileRecord{Path: rel, ModTime: info.ModTime(), Kind: KindDir}, nil
	case !info.Mode().IsRegular():
		// Sockets, devices and symlinks are not synced.
		return FileRecord{Path: rel, Kind: KindAbsent}, nil
	}

	rec, err := f.fileRecord(rel, abs, info)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FileRecord{Path: rel, Kind: KindAbsent}, nil
		}
		return FileRecord{}, opError("stat", f.String(), rel, classifyFsErr(err))
	}
	return rec, nil
}

func (f *Folder) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, opError("read", f.String(), path, ctxSentinel(ctx))
	}
	rel, abs, err := f.resolve(path)
	if err != nil {
		return nil, opError("read", f.String(), path, err)
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, opError("read", f.String(), rel, classifyFsErr(err))
	}
	return content, nil
}

func (f *Folder) Write(ctx context.Context, path string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return opError("write", f.String(), path, ctxSentinel(ctx))
	}
	rel, abs, err := f.resolve(path)
	if err != nil {
		return opError("write", f.String(), path, err)
	}

	if err := f.writeAtomic(abs, content); err != nil {
		return opError("write", f.String(), rel, classifyFsErr(err))
	}

	// Refresh the cache from the final inode so the next List can skip
	// rehashing what we just wrote.
	if info, err := os.Stat(abs); err == nil {
		f.cache.Store(rel, info.Size(), info.ModTime(), DigestBytes(content))
	}
	return nil
}

func (f *Folder) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return opError("delete", f.String(), path, ctxSentinel(ctx))
	}
	rel, abs, err := f.resolve(path)
	if err != nil {
		return opError("delete", f.String(), path, err)
	}

	f.cache.Forget(rel)
	if err := os.Remove(abs); err != nil {
		// Already gone is success for an idempotent delete.
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return opError("delete", f.String(), rel, classifyFsErr(err))
	}

	f.pruneEmptyParents(abs)
	return nil
}

func (f *Folder) Close() error {
	return nil
}

// fileRecord builds a FileRecord for a regular file, hashing only when
// the cache has no digest for this (size, mtime) observation.
func (f *Folder) fileRecord(rel, abs string, info fs.FileInfo) (FileRecord, error) {
	rec := FileRecord{
		Path:    rel,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Kind:    KindFile,
	}

	if digest, ok := f.cache.Lookup(rel, info.Size(), info.ModTime()); ok {
		rec.Digest = digest
		return rec, nil
	}

	file, err := os.Open(abs)
	if err != nil {
		return FileRecord{}, err
	}
	defer file.Close()

	digest, err := Digest(file)
	if err != nil {
		return FileRecord{}, err
	}
	rec.Digest = digest
	f.cache.Store(rel, info.Size(), info.ModTime(), digest)
	return rec, nil
}

// writeAtomic stages content in the target directory and renames it
// into place.
func (f *Folder) writeAtomic(abs string, content []byte) error {
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, abs); err != nil {
		return err
	}

	committed = true
	return nil
}

// pruneEmptyParents removes directories left empty by a delete, up to
// but never including the root. os.Remove refuses non-empty
// directories, which bounds the loop.
func (f *Folder) pruneEmptyParents(abs string) {
	for dir := filepath.Dir(abs); dir != f.root && strings.HasPrefix(dir, f.root); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			return
		}
	}
}

func (f *Folder) resolve(path string) (rel string, abs string, err error) {
	rel, err = NormPath(path)
	if err != nil {
		return "", "", err
	}
	return rel, filepath.Join(f.root, filepath.FromSlash(rel)), nil
}

func resolveRoot(root string) (string, error) {
	abs, err := utils.ResolvePath(root)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

// classifyFsErr maps filesystem failures onto the error taxonomy.
func classifyFsErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrAccess),
		errors.Is(err, ErrNotFound), errors.Is(err, ErrConnection):
		return err
	case errors.Is(err, fs.ErrNotExist):
		return wrapSentinel(ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return wrapSentinel(ErrAccess, err)
	case errors.Is(err, context.DeadlineExceeded):
		return wrapSentinel(ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return wrapSentinel(ErrAccess, err)
	}
}
