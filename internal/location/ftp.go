package location

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
)

const (
	defaultFTPPort        = "21"
	defaultFTPDialTimeout = 10 * time.Second
	anonymousUser         = "anonymous"
)

// FTPConfig carries the pieces of a parsed ftp:// connection string.
type FTPConfig struct {
	Addr        string // host or host:port
	User        string
	Pass        string
	Root        string // remote base directory
	DialTimeout time.Duration
}

// FTPLocation is a Location backed by a remote FTP tree. A single
// control connection is guarded by a mutex (the protocol cannot
// multiplex commands) and re-dialed lazily after connection failures.
// Modification times come from MDTM; directory-listing timestamps are
// too coarse to key the digest cache.
type FTPLocation struct {
	addr    string
	user    string
	pass    string
	root    string
	display string
	timeout time.Duration

	mu   sync.Mutex
	conn *ftp.ServerConn

	cache *DigestCache
}

var _ Location = (*FTPLocation)(nil)

func NewFTP(cfg FTPConfig) (*FTPLocation, error) {
	if cfg.Addr == "" {
		return nil, errors.New("ftp: host required")
	}
	addr := cfg.Addr
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, defaultFTPPort)
	}

	user := cfg.User
	pass := cfg.Pass
	if user == "" {
		user = anonymousUser
		if pass == "" {
			pass = anonymousUser
		}
	}

	root := path.Clean("/" + strings.Trim(cfg.Root, "/"))

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = defaultFTPDialTimeout
	}

	return &FTPLocation{
		addr:    addr,
		user:    user,
		pass:    pass,
		root:    root,
		display: fmt.Sprintf("ftp://%s@%s%s", user, addr, root),
		timeout: timeout,
		cache:   NewDigestCache(0, 0),
	}, nil
}

func (f *FTPLocation) String() string {
	return f.display
}

func (f *FTPLocation) List(ctx context.Context) ([]FileRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	conn, err := f.ensureConn(ctx)
	if err != nil {
		return nil, opError("list", f.display, "", err)
	}

	type remoteFile struct {
		rel  string
		size int64
	}
	var files []remoteFile

	walker := conn.Walk(f.root)
	for walker.Next() {
		if err := ctx.Err(); err != nil {
			return nil, opError("list", f.display, "", ctxSentinel(ctx))
		}
		entry := walker.Stat()
		if entry.Type != ftp.EntryTypeFile {
			continue
		}
		rel, ok := f.relPath(walker.Path())
		if !ok {
			continue
		}
		files = append(files, remoteFile{rel: rel, size: int64(entry.Size)})
	}
	if err := walker.Err(); err != nil {
		f.dropConn(err)
		return nil, opError("list", f.display, "", classifyFTPErr(ctx, err))
	}

	records := make([]FileRecord, 0, len(files))
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, opError("list", f.display, "", ctxSentinel(ctx))
		}
		rec, err := f.fileRecord(conn, file.rel, file.size)
		if err != nil {
			f.dropConn(err)
			return nil, opError("list", f.display, file.rel, classifyFTPErr(ctx, err))
		}
		records = append(records, rec)
	}

	SortRecords(records)
	return records, nil
}

func (f *FTPLocation) Stat(ctx context.Context, p string) (FileRecord, error) {
	rel, err := NormPath(p)
	if err != nil {
		return FileRecord{}, opError("stat", f.display, p, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	conn, err := f.ensureConn(ctx)
	if err != nil {
		return FileRecord{}, opError("stat", f.display, rel, err)
	}

	size, err := conn.FileSize(f.abs(rel))
	if err != nil {
		if isFTPNotFound(err) {
			// SIZE rejects directories too, so distinguish them. All
			// other commands use absolute paths, making CWD harmless.
			if cdErr := conn.ChangeDir(f.abs(rel)); cdErr == nil {
				return FileRecord{Path: rel, Kind: KindDir}, nil
			}
			return FileRecord{Path: rel, Kind: KindAbsent}, nil
		}
		f.dropConn(err)
		return FileRecord{}, opError("stat", f.display, rel, classifyFTPErr(ctx, err))
	}

	rec, err := f.fileRecord(conn, rel, size)
	if err != nil {
		if isFTPNotFound(err) {
			return FileRecord{Path: rel, Kind: KindAbsent}, nil
		}
		f.dropConn(err)
		return FileRecord{}, opError("stat", f.display, rel, classifyFTPErr(ctx, err))
	}
	return rec, nil
}

func (f *FTPLocation) Read(ctx context.Context, p string) ([]byte, error) {
	rel, err := NormPath(p)
	if err != nil {
		return nil, opError("read", f.display, p, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	conn, err := f.ensureConn(ctx)
	if err != nil {
		return nil, opError("read", f.display, rel, err)
	}

	content, err := f.retr(conn, rel)
	if err != nil {
		if !isFTPNotFound(err) {
			f.dropConn(err)
		}
		return nil, opError("read", f.display, rel, classifyFTPErr(ctx, err))
	}
	return content, nil
}

func (f *FTPLocation) Write(ctx context.Context, p string, content []byte) error {
	rel, err := NormPath(p)
	if err != nil {
		return opError("write", f.display, p, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	conn, err := f.ensureConn(ctx)
	if err != nil {
		return opError("write", f.display, rel, err)
	}

	f.makeParents(conn, rel)

	// Upload under a temp name, then rename. RNTO replaces the target
	// on compliant servers, so readers never see a partial upload.
	abs := f.abs(rel)
	tmp := path.Join(path.Dir(abs), tmpPrefix+strconv.FormatInt(time.Now().UnixNano(), 36))
	if err := conn.Stor(tmp, bytes.NewReader(content)); err != nil {
		f.dropConn(err)
		return opError("write", f.display, rel, classifyFTPErr(ctx, err))
	}
	if err := conn.Rename(tmp, abs); err != nil {
		conn.Delete(tmp)
		f.dropConn(err)
		return opError("write", f.display, rel, classifyFTPErr(ctx, err))
	}

	mod, err := conn.GetTime(abs)
	if err != nil {
		mod = time.Now().UTC()
	}
	f.cache.Store(rel, int64(len(content)), mod, DigestBytes(content))
	return nil
}

func (f *FTPLocation) Delete(ctx context.Context, p string) error {
	rel, err := NormPath(p)
	if err != nil {
		return opError("delete", f.display, p, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	conn, err := f.ensureConn(ctx)
	if err != nil {
		return opError("delete", f.display, rel, err)
	}

	f.cache.Forget(rel)
	if err := conn.Delete(f.abs(rel)); err != nil {
		if isFTPNotFound(err) {
			return nil
		}
		f.dropConn(err)
		return opError("delete", f.display, rel, classifyFTPErr(ctx, err))
	}

	f.removeEmptyParents(conn, rel)
	return nil
}

func (f *FTPLocation) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return nil
	}
	err := f.conn.Quit()
	f.conn = nil
	return err
}

// ensureConn dials and logs in when no live connection exists.
// Callers hold f.mu.
func (f *FTPLocation) ensureConn(ctx context.Context) (*ftp.ServerConn, error) {
	if f.conn != nil {
		return f.conn, nil
	}

	conn, err := ftp.Dial(f.addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(f.timeout),
	)
	if err != nil {
		return nil, classifyFTPErr(ctx, err)
	}
	if err := conn.Login(f.user, f.pass); err != nil {
		conn.Quit()
		return nil, wrapSentinel(ErrAccess, err)
	}

	// Create the base directory on first contact so an empty remote
	// side starts as an empty listing instead of a listing error.
	if err := conn.ChangeDir(f.root); err != nil {
		f.makeDirAll(conn, f.root)
	}

	f.conn = conn
	return conn, nil
}

// dropConn discards the connection after transport-level failures so
// the next operation re-dials.
func (f *FTPLocation) dropConn(err error) {
	if f.conn == nil || !isFTPTransportErr(err) {
		return
	}
	f.conn.Quit()
	f.conn = nil
}

func (f *FTPLocation) fileRecord(conn *ftp.ServerConn, rel string, size int64) (FileRecord, error) {
	abs := f.abs(rel)

	mod, err := conn.GetTime(abs)
	if err != nil {
		if isFTPTransportErr(err) {
			return FileRecord{}, err
		}
		// No MDTM support. Digests decide changes anyway.
		mod = time.Time{}
	}

	rec := FileRecord{
		Path:    rel,
		Size:    size,
		ModTime: mod,
		Kind:    KindFile,
	}

	if digest, ok := f.cache.Lookup(rel, size, mod); ok {
		rec.Digest = digest
		return rec, nil
	}

	content, err := f.retr(conn, rel)
	if err != nil {
		return FileRecord{}, err
	}
	rec.Digest = DigestBytes(content)
	rec.Size = int64(len(content))
	f.cache.Store(rel, rec.Size, mod, rec.Digest)
	return rec, nil
}

func (f *FTPLocation) retr(conn *ftp.ServerConn, rel string) ([]byte, error) {
	resp, err := conn.Retr(f.abs(rel))
	if err != nil {
		return nil, err
	}
	defer resp.Close()
	return io.ReadAll(resp)
}

// makeParents issues MKD for every ancestor of rel below the root.
// Existing directories answer 550, which is fine.
func (f *FTPLocation) makeParents(conn *ftp.ServerConn, rel string) {
	dir := path.Dir(rel)
	if dir == "." || dir == "/" {
		return
	}
	f.makeDirAll(conn, f.abs(dir))
}

func (f *FTPLocation) makeDirAll(conn *ftp.ServerConn, abs string) {
	segments := strings.Split(strings.Trim(abs, "/"), "/")
	cur := ""
	for _, seg := range segments {
		cur = cur + "/" + seg
		conn.MakeDir(cur)
	}
}

// removeEmptyParents mirrors the folder variant's directory pruning.
// RMD fails on non-empty directories, bounding the loop.
func (f *FTPLocation) removeEmptyParents(conn *ftp.ServerConn, rel string) {
	for dir := path.Dir(rel); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if err := conn.RemoveDir(f.abs(dir)); err != nil {
			return
		}
	}
}

func (f *FTPLocation) abs(rel string) string {
	return path.Join(f.root, rel)
}

func (f *FTPLocation) relPath(walkPath string) (string, bool) {
	rel := strings.TrimPrefix(path.Clean("/"+walkPath), f.root)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		return "", false
	}
	if strings.HasPrefix(path.Base(rel), tmpPrefix) {
		return "", false
	}
	norm, err := NormPath(rel)
	if err != nil {
		return "", false
	}
	return norm, true
}

// isFTPNotFound reports a 55x "file unavailable" reply.
func isFTPNotFound(err error) bool {
	var proto *textproto.Error
	if errors.As(err, &proto) {
		return proto.Code == ftp.StatusFileUnavailable || proto.Code == ftp.StatusBadFileName
	}
	return false
}

// isFTPTransportErr reports failures that poison the control
// connection, as opposed to per-file protocol replies.
func isFTPTransportErr(err error) bool {
	if err == nil {
		return false
	}
	var proto *textproto.Error
	if errors.As(err, &proto) {
		return proto.Code == ftp.StatusNotAvailable || proto.Code == ftp.StatusTransfertAborted
	}
	return true
}

func classifyFTPErr(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrAccess),
		errors.Is(err, ErrNotFound), errors.Is(err, ErrConnection):
		return err
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return wrapSentinel(ErrTimeout, err)
	}

	if ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return wrapSentinel(ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return wrapSentinel(ErrTimeout, err)
	}

	var proto *textproto.Error
	if errors.As(err, &proto) {
		switch {
		case proto.Code == ftp.StatusFileUnavailable || proto.Code == ftp.StatusBadFileName:
			return wrapSentinel(ErrNotFound, err)
		case proto.Code == ftp.StatusNotLoggedIn:
			return wrapSentinel(ErrAccess, err)
		default:
			return wrapSentinel(ErrConnection, err)
		}
	}

	return wrapSentinel(ErrConnection, err)
}
