package location

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultDigestCacheSize = 8192
	defaultDigestCacheTTL  = 30 * time.Minute
)

type digestEntry struct {
	size    int64
	modTime time.Time
	digest  string
}

// DigestCache memoizes content digests per path. Size and mtime form
// the validity key: if either moved, the cached digest is stale and the
// caller must rehash. Safe for concurrent use; each observation is
// written once by the goroutine that hashed it.
type DigestCache struct {
	lru *expirable.LRU[string, digestEntry]
}

func NewDigestCache(size int, ttl time.Duration) *DigestCache {
	if size <= 0 {
		size = defaultDigestCacheSize
	}
	if ttl <= 0 {
		ttl = defaultDigestCacheTTL
	}
	return &DigestCache{
		lru: expirable.NewLRU[string, digestEntry](size, nil, ttl),
	}
}

// Lookup returns the cached digest for path if size and mtime still
// match the observation that produced it.
func (c *DigestCache) Lookup(path string, size int64, modTime time.Time) (string, bool) {
	e, ok := c.lru.Get(path)
	if !ok || e.size != size || !e.modTime.Equal(modTime) {
		return "", false
	}
	return e.digest, true
}

// Store records a freshly computed digest for path.
func (c *DigestCache) Store(path string, size int64, modTime time.Time, digest string) {
	c.lru.Add(path, digestEntry{size: size, modTime: modTime, digest: digest})
}

// Forget drops any cached digest for path.
func (c *DigestCache) Forget(path string) {
	c.lru.Remove(path)
}

// Len returns the number of cached observations.
func (c *DigestCache) Len() int {
	return c.lru.Len()
}

// Digest computes the hex MD5 of everything readable from r.
func Digest(r io.Reader) (string, error) {
	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DigestBytes computes the hex MD5 of b.
func DigestBytes(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}
