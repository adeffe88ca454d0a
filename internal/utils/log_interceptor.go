// Package utils provides small helpers shared across the sync daemon.
package utils

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"
)

// maxPendingLine bounds how much of an unterminated line is buffered
// before it is flushed as-is.
const maxPendingLine = 1 << 20

// LogInterceptor numbers and timestamps every line written through it.
// The file handler upstream drops its own time attribute, so the
// interceptor is the single stamp on each log line, including raw
// multi-line output from panics and third-party code.
type LogInterceptor struct {
	mu     sync.Mutex
	target io.Writer
	buf    bytes.Buffer
	seq    uint64
}

func NewLogInterceptor(target io.Writer) *LogInterceptor {
	return &LogInterceptor{target: target}
}

// Write buffers p and emits every complete line with its prefix. A
// trailing partial line waits for the rest, up to maxPendingLine.
func (w *LogInterceptor) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := w.buf.Next(i + 1)
		if err := w.stamp(bytes.TrimRight(line, "\r\n")); err != nil {
			return len(p), err
		}
	}

	if w.buf.Len() > maxPendingLine {
		if err := w.stamp(w.buf.Next(w.buf.Len())); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

// Close flushes any unterminated line still in the buffer.
func (w *LogInterceptor) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() == 0 {
		return nil
	}
	line := w.buf.Next(w.buf.Len())
	return w.stamp(bytes.TrimRight(line, "\r\n"))
}

func (w *LogInterceptor) stamp(line []byte) error {
	w.seq++
	if _, err := fmt.Fprintf(w.target, "line=%d time=%s ", w.seq, time.Now().Format(time.RFC3339)); err != nil {
		return err
	}
	if _, err := w.target.Write(line); err != nil {
		return err
	}
	_, err := io.WriteString(w.target, "\n")
	return err
}
