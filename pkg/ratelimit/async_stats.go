package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"user-management-api/backend/pkg/logger"
	"user-management-api/backend/pkg/resilience"

	"golang.org/x/time/rate"
)

// ErrStatsClosed is returned by AsyncRecorder.Record after Close
var ErrStatsClosed = errors.New("stats recorder closed")

// AsyncRecorder queues events for a single background writer so a slow
// recorder (usually Redis) never delays the request. When the queue is full
// the event is dropped and counted.
type AsyncRecorder struct {
	next    StatsRecorder
	queue   chan StatsEvent
	timeout time.Duration
	log     *logger.Logger

	dropped atomic.Int64
	notice  rate.Sometimes
	closed  atomic.Bool
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewAsyncRecorder starts a writer forwarding to next. Each forwarded write
// is bounded by timeout.
func NewAsyncRecorder(next StatsRecorder, size int, timeout time.Duration, log *logger.Logger) *AsyncRecorder {
	if size <= 0 {
		size = 1024
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	if log == nil {
		log = logger.GetGlobal()
	}

	a := &AsyncRecorder{
		next:    next,
		queue:   make(chan StatsEvent, size),
		timeout: timeout,
		log:     log.WithComponent("ratelimit-stats"),
		notice:  rate.Sometimes{First: 1, Interval: 10 * time.Second},
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Record implements StatsRecorder. It takes no lock and never blocks.
func (a *AsyncRecorder) Record(_ context.Context, ev StatsEvent) error {
	if a.closed.Load() {
		return ErrStatsClosed
	}

	select {
	case a.queue <- ev:
	default:
		a.dropped.Add(1)
	}
	return nil
}

// Dropped reports how many events were discarded and not yet reported
func (a *AsyncRecorder) Dropped() int64 {
	return a.dropped.Load()
}

// Close forwards the events already queued and stops the writer
func (a *AsyncRecorder) Close() error {
	a.once.Do(func() {
		a.closed.Store(true)
		close(a.stop)
	})
	<-a.done
	return nil
}

func (a *AsyncRecorder) run() {
	defer close(a.done)
	for {
		select {
		case ev := <-a.queue:
			a.forward(ev)
			if a.dropped.Load() > 0 {
				a.notice.Do(a.reportDropped)
			}
		case <-a.stop:
			a.drain()
			a.reportDropped()
			return
		}
	}
}

func (a *AsyncRecorder) drain() {
	for {
		select {
		case ev := <-a.queue:
			a.forward(ev)
		default:
			return
		}
	}
}

func (a *AsyncRecorder) forward(ev StatsEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	if err := a.next.Record(ctx, ev); err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		a.log.Debug("Failed to record rate limit stats", "error", err.Error())
	}
}

func (a *AsyncRecorder) reportDropped() {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("Rate limit stats queue full, events dropped", "dropped", n)
	}
}
