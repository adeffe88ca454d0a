package sync

import (
	"sync"
	"time"
)

const (
	retryBaseDelay = 1 * time.Second
	retryMaxDelay  = 5 * time.Minute
)

type retryState struct {
	failures int
	nextTry  time.Time
	lastErr  error
}

// retryTracker holds per-path failure counts and the earliest moment a
// failed path may be retried. A path under backoff is deferred by the
// classifier instead of hammering a broken target every cycle; a
// successful action clears it.
type retryTracker struct {
	mu    sync.Mutex
	paths map[string]*retryState
	base  time.Duration
	max   time.Duration
}

func newRetryTracker() *retryTracker {
	return &retryTracker{
		paths: make(map[string]*retryState),
		base:  retryBaseDelay,
		max:   retryMaxDelay,
	}
}

// Bump records a failure and pushes the next attempt out exponentially:
// base, 2x, 4x ... capped at max.
func (t *retryTracker) Bump(path string, err error) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.paths[path]
	if !ok {
		st = &retryState{}
		t.paths[path] = st
	}

	delay := t.base << st.failures
	if delay > t.max || delay <= 0 {
		delay = t.max
	}
	st.failures++
	st.nextTry = time.Now().Add(delay)
	st.lastErr = err
	return delay
}

// Ready reports whether path is clear to act on at instant now.
func (t *retryTracker) Ready(path string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.paths[path]
	if !ok {
		return true
	}
	return !now.Before(st.nextTry)
}

// Reset clears the failure history after a success.
func (t *retryTracker) Reset(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.paths, path)
}

// Pending returns the number of paths currently waiting out a backoff.
func (t *retryTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	n := 0
	for _, st := range t.paths {
		if now.Before(st.nextTry) {
			n++
		}
	}
	return n
}
