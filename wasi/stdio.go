package wasi

import (
	"bytes"
	"io"
	"strings"
	"sync"

	"github.com/wippyai/wasm-bridge/config"
)

// BlockSize is the flush threshold of block buffering and the longest line
// line buffering holds before flushing anyway.
const BlockSize = 8192

// Writer splits guest output into chunks according to a buffer mode and
// hands them to emit. Concatenating the chunks reproduces the output
// exactly. emit runs without the writer's lock held, so it may write to the
// writer again.
type Writer struct {
	mu     sync.Mutex
	mode   config.BufferMode
	emit   func(string)
	buf    []byte
	closed bool
}

// NewWriter creates a Writer. A nil emit discards output.
func NewWriter(mode config.BufferMode, emit func(string)) *Writer {
	if emit == nil {
		emit = func(string) {}
	}
	return &Writer{mode: mode, emit: emit}
}

// Write buffers p and emits every chunk that became complete.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	var out []string
	switch w.mode {
	case config.BufferUnbuffered:
		if len(p) > 0 {
			out = append(out, string(p))
		}
	case config.BufferLine:
		w.buf = append(w.buf, p...)
		for {
			if i := bytes.IndexByte(w.buf, '\n'); i >= 0 && i < BlockSize {
				out = append(out, string(w.buf[:i+1]))
				w.buf = w.buf[i+1:]
				continue
			}
			if len(w.buf) < BlockSize {
				break
			}
			out = append(out, string(w.buf[:BlockSize]))
			w.buf = w.buf[BlockSize:]
		}
	case config.BufferBlock:
		w.buf = append(w.buf, p...)
		out = w.takeBlocks(out)
	default:
		w.buf = append(w.buf, p...)
	}
	w.mu.Unlock()

	for _, s := range out {
		w.emit(s)
	}
	return len(p), nil
}

func (w *Writer) takeBlocks(out []string) []string {
	for len(w.buf) >= BlockSize {
		out = append(out, string(w.buf[:BlockSize]))
		w.buf = w.buf[BlockSize:]
	}
	if len(w.buf) == 0 {
		w.buf = nil
	}
	return out
}

// Flush emits whatever is buffered.
func (w *Writer) Flush() {
	w.mu.Lock()
	rest := string(w.buf)
	w.buf = nil
	w.mu.Unlock()
	if rest != "" {
		w.emit(rest)
	}
}

// Close flushes and rejects further writes.
func (w *Writer) Close() error {
	w.Flush()
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

// LineQueue is a stdin fed line by line by the host. Reads block until data
// arrives or the queue is closed, calling onEmpty each time the guest finds
// it empty.
type LineQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	closed  bool
	onEmpty func()
}

// NewLineQueue creates an open, empty queue.
func NewLineQueue(onEmpty func()) *LineQueue {
	q := &LineQueue{onEmpty: onEmpty}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// AddLine appends line, terminated by a newline if it lacks one. Lines
// added after Close are dropped.
func (q *LineQueue) AddLine(line string) {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.buf = append(q.buf, line...)
	q.cond.Broadcast()
}

// Preload appends raw data and closes the queue.
func (q *LineQueue) Preload(data []byte) {
	q.mu.Lock()
	q.buf = append(q.buf, data...)
	q.mu.Unlock()
	q.Close()
}

// Close marks end of input. Buffered data is still readable.
func (q *LineQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	return nil
}

// Read implements io.Reader.
func (q *LineQueue) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	requested := false
	for len(q.buf) == 0 && !q.closed {
		if !requested && q.onEmpty != nil {
			requested = true
			q.mu.Unlock()
			q.onEmpty()
			q.mu.Lock()
			continue
		}
		q.cond.Wait()
	}
	if len(q.buf) == 0 {
		return 0, io.EOF
	}
	n := copy(p, q.buf)
	q.buf = q.buf[n:]
	return n, nil
}
