package logger

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// AsyncWriter is a bounded, non-blocking io.Writer. Writes are queued and
// flushed to the underlying writer by a single goroutine; when the queue is
// full the record is dropped instead of blocking the caller.
type AsyncWriter struct {
	out     io.Writer
	notices *slog.Logger
	queue   chan []byte
	dropped atomic.Int64
	notice  rate.Sometimes
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
}

// NewAsyncWriter starts a writer with the given queue capacity. Overflow
// notices are written to out in the same format as the records (JSON or text).
func NewAsyncWriter(out io.Writer, size int, json bool) *AsyncWriter {
	if size <= 0 {
		size = 1024
	}
	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(out, nil)
	} else {
		handler = slog.NewTextHandler(out, nil)
	}
	w := &AsyncWriter{
		out:     out,
		notices: slog.New(handler),
		queue:   make(chan []byte, size),
		notice:  rate.Sometimes{First: 1, Interval: 5 * time.Second},
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// Write queues a copy of p. It never blocks.
func (w *AsyncWriter) Write(p []byte) (int, error) {
	buf := make([]byte, len(p))
	copy(buf, p)

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return 0, io.ErrClosedPipe
	}

	select {
	case w.queue <- buf:
	default:
		w.dropped.Add(1)
	}
	return len(p), nil
}

// Dropped reports how many records were discarded and not yet reported
func (w *AsyncWriter) Dropped() int64 {
	return w.dropped.Load()
}

// Close flushes queued records and stops the writer goroutine
func (w *AsyncWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	<-w.done
	return nil
}

func (w *AsyncWriter) run() {
	defer close(w.done)
	for buf := range w.queue {
		_, _ = w.out.Write(buf)
		if w.dropped.Load() > 0 {
			w.notice.Do(w.reportDropped)
		}
	}
	if w.dropped.Load() > 0 {
		w.reportDropped()
	}
}

func (w *AsyncWriter) reportDropped() {
	n := w.dropped.Swap(0)
	if n == 0 {
		return
	}
	w.notices.Warn("log sink overflow", "dropped", n)
}
