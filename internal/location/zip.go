package location

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/mirrorsync/mirrorsync/internal/utils"
)

const zipLockRetry = 50 * time.Millisecond

// Zip is a Location backed by a single .zip archive. Every mutation
// rewrites the archive to a temp file and renames it into place, so
// concurrent readers always observe a complete archive. A sidecar
// flock serializes mutations across processes; the mutex serializes
// them within this one.
type Zip struct {
	path  string
	flk   *flock.Flock
	mu    sync.Mutex
	cache *DigestCache
}

var _ Location = (*Zip)(nil)

func NewZip(path string) (*Zip, error) {
	abs, err := utils.ResolvePath(path)
	if err != nil {
		return nil, err
	}
	if err := utils.EnsureParent(abs); err != nil {
		return nil, err
	}
	return &Zip{
		path:  abs,
		flk:   flock.New(abs + ".lock"),
		cache: NewDigestCache(0, 0),
	}, nil
}

func (z *Zip) String() string {
	return "zip:" + z.path
}

func (z *Zip) List(ctx context.Context) ([]FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, opError("list", z.String(), "", ctxSentinel(ctx))
	}

	reader, err := zip.OpenReader(z.path)
	if errors.Is(err, fs.ErrNotExist) {
		// Archive not created yet: an empty location, not an error.
		return nil, nil
	}
	if err != nil {
		return nil, opError("list", z.String(), "", classifyFsErr(err))
	}
	defer reader.Close()

	// Later entries shadow earlier ones with the same name, matching
	// what extraction tools do with duplicate entries.
	byPath := make(map[string]FileRecord, len(reader.File))
	for _, entry := range reader.File {
		if err := ctx.Err(); err != nil {
			return nil, opError("list", z.String(), "", ctxSentinel(ctx))
		}
		rel, ok := z.entryPath(&entry.FileHeader)
		if !ok {
			continue
		}
		rec, err := z.entryRecord(rel, entry)
		if err != nil {
			return nil, opError("list", z.String(), rel, classifyFsErr(err))
		}
		byPath[rel] = rec
	}

	records := make([]FileRecord, 0, len(byPath))
	for _, rec := range byPath {
		records = append(records, rec)
	}
	SortRecords(records)
	return records, nil
}

func (z *Zip) Stat(ctx context.Context, path string) (FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return FileRecord{}, opError("stat", z.String(), path, ctxSentinel(ctx))
	}
	rel, err := NormPath(path)
	if err != nil {
		return FileRecord{}, opError("stat", z.String(), path, err)
	}

	entry, reader, err := z.findEntry(rel)
	if err != nil {
		return FileRecord{}, opError("stat", z.String(), rel, classifyFsErr(err))
	}
	if entry == nil {
		return FileRecord{Path: rel, Kind: KindAbsent}, nil
	}
	defer reader.Close()

	rec, err := z.entryRecord(rel, entry)
	if err != nil {
		return FileRecord{}, opError("stat", z.String(), rel, classifyFsErr(err))
	}
	return rec, nil
}

func (z *Zip) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, opError("read", z.String(), path, ctxSentinel(ctx))
	}
	rel, err := NormPath(path)
	if err != nil {
		return nil, opError("read", z.String(), path, err)
	}

	entry, reader, err := z.findEntry(rel)
	if err != nil {
		return nil, opError("read", z.String(), rel, classifyFsErr(err))
	}
	if entry == nil {
		return nil, opError("read", z.String(), rel, wrapSentinel(ErrNotFound, nil))
	}
	defer reader.Close()

	rc, err := entry.Open()
	if err != nil {
		return nil, opError("read", z.String(), rel, classifyFsErr(err))
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, opError("read", z.String(), rel, classifyFsErr(err))
	}
	return content, nil
}

func (z *Zip) Write(ctx context.Context, path string, content []byte) error {
	rel, err := NormPath(path)
	if err != nil {
		return opError("write", z.String(), path, err)
	}

	mod := time.Now()
	if err := z.rewrite(ctx, rel, &zipAddition{rel: rel, content: content, mod: mod}); err != nil {
		return opError("write", z.String(), rel, err)
	}
	z.cache.Store(rel, int64(len(content)), mod, DigestBytes(content))
	return nil
}

func (z *Zip) Delete(ctx context.Context, path string) error {
	rel, err := NormPath(path)
	if err != nil {
		return opError("delete", z.String(), path, err)
	}

	z.cache.Forget(rel)

	// No archive or no entry: already deleted.
	entry, reader, err := z.findEntry(rel)
	if err != nil {
		return opError("delete", z.String(), rel, classifyFsErr(err))
	}
	if entry == nil {
		return nil
	}
	reader.Close()

	if err := z.rewrite(ctx, rel, nil); err != nil {
		return opError("delete", z.String(), rel, err)
	}
	return nil
}

func (z *Zip) Close() error {
	return nil
}

type zipAddition struct {
	rel     string
	content []byte
	mod     time.Time
}

// rewrite replaces the archive with a copy that omits skip and appends
// add when non-nil. Existing entries transfer raw, without
// recompression.
func (z *Zip) rewrite(ctx context.Context, skip string, add *zipAddition) error {
	z.mu.Lock()
	defer z.mu.Unlock()

	locked, err := z.flk.TryLockContext(ctx, zipLockRetry)
	if err != nil {
		return classifyFsErr(err)
	}
	if !locked {
		return wrapSentinel(ErrAccess, errors.New("archive lock unavailable"))
	}
	defer z.flk.Unlock()

	var existing *zip.ReadCloser
	if utils.FileExists(z.path) {
		existing, err = zip.OpenReader(z.path)
		if err != nil {
			return classifyFsErr(err)
		}
		defer existing.Close()
	}

	tmp, err := os.CreateTemp(filepath.Dir(z.path), tmpPrefix+"*.zip")
	if err != nil {
		return classifyFsErr(err)
	}
	tmpPath := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	writer := zip.NewWriter(tmp)
	if existing != nil {
		for _, entry := range existing.File {
			if err := ctx.Err(); err != nil {
				writer.Close()
				return ctxSentinel(ctx)
			}
			if rel, ok := z.entryPath(&entry.FileHeader); ok && rel == skip {
				continue
			}
			if err := copyRawEntry(writer, entry); err != nil {
				writer.Close()
				return classifyFsErr(err)
			}
		}
	}

	if add != nil {
		hdr := &zip.FileHeader{
			Name:     add.rel,
			Method:   zip.Deflate,
			Modified: add.mod,
		}
		hdr.SetMode(0o644)
		w, err := writer.CreateHeader(hdr)
		if err != nil {
			writer.Close()
			return classifyFsErr(err)
		}
		if _, err := w.Write(add.content); err != nil {
			writer.Close()
			return classifyFsErr(err)
		}
	}

	if err := writer.Close(); err != nil {
		return classifyFsErr(err)
	}
	if err := tmp.Sync(); err != nil {
		return classifyFsErr(err)
	}
	if err := tmp.Close(); err != nil {
		return classifyFsErr(err)
	}
	if err := os.Rename(tmpPath, z.path); err != nil {
		return classifyFsErr(err)
	}

	committed = true
	return nil
}

func copyRawEntry(writer *zip.Writer, entry *zip.File) error {
	hdr := entry.FileHeader
	w, err := writer.CreateRaw(&hdr)
	if err != nil {
		return err
	}
	r, err := entry.OpenRaw()
	if err != nil {
		return err
	}
	_, err = io.Copy(w, r)
	return err
}

// findEntry locates the last archive entry matching rel. The caller
// must Close the returned reader when entry is non-nil. A missing
// archive or missing entry yields (nil, nil, nil).
func (z *Zip) findEntry(rel string) (*zip.File, *zip.ReadCloser, error) {
	reader, err := zip.OpenReader(z.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	var found *zip.File
	for _, entry := range reader.File {
		if p, ok := z.entryPath(&entry.FileHeader); ok && p == rel {
			found = entry
		}
	}
	if found == nil {
		reader.Close()
		return nil, nil, nil
	}
	return found, reader, nil
}

func (z *Zip) entryRecord(rel string, entry *zip.File) (FileRecord, error) {
	size := int64(entry.UncompressedSize64)
	rec := FileRecord{
		Path:    rel,
		Size:    size,
		ModTime: entry.Modified,
		Kind:    KindFile,
	}

	if digest, ok := z.cache.Lookup(rel, size, entry.Modified); ok {
		rec.Digest = digest
		return rec, nil
	}

	rc, err := entry.Open()
	if err != nil {
		return FileRecord{}, err
	}
	defer rc.Close()

	digest, err := Digest(rc)
	if err != nil {
		return FileRecord{}, err
	}
	rec.Digest = digest
	z.cache.Store(rel, size, entry.Modified, digest)
	return rec, nil
}

// entryPath normalizes an archive entry name, rejecting directory
// markers, write artifacts, and names escaping the root.
func (z *Zip) entryPath(hdr *zip.FileHeader) (string, bool) {
	name := hdr.Name
	if name == "" || strings.HasSuffix(name, "/") || hdr.FileInfo().IsDir() {
		return "", false
	}
	if strings.HasPrefix(filepath.Base(name), tmpPrefix) {
		return "", false
	}
	rel, err := NormPath(name)
	if err != nil {
		return "", false
	}
	return rel, true
}
