// Package queue implements the cross-thread request submission path: a
// bounded multi-producer queue per worker whose drain coalesces the
// flushes of every connection touched in a cycle, so N submissions to
// one connection cost one socket write, not N.
package queue

import (
	"sync"
	"sync/atomic"
	"time"

	ring "github.com/eapache/queue"

	"example.com/cqlwire/internal/conn"
	"example.com/cqlwire/internal/logger"
	"example.com/cqlwire/internal/metrics"
	"example.com/cqlwire/internal/proto"
	"example.com/cqlwire/internal/worker"
)

// item is one "write this request on this connection" submission.
// Ephemeral: created at Write, consumed at drain.
type item struct {
	c  *conn.Connection
	cb conn.RequestCallback
}

// Options tunes a RequestQueue.
type Options struct {
	// Size bounds the submission queue; a full queue rejects writes.
	Size int
	// FlushInterval is the fallback timer period bounding flush latency
	// when a wake gets coalesced away.
	FlushInterval time.Duration
	// IdleFlushCutoff is the number of consecutive timer-driven cycles
	// with nothing to do before the timer stops. Tunable; any Write
	// re-arms it.
	IdleFlushCutoff int
	Log             *logger.Logger
}

func (o *Options) applyDefaults() {
	if o.Size <= 0 {
		o.Size = 1024
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 200 * time.Microsecond
	}
	if o.IdleFlushCutoff <= 0 {
		o.IdleFlushCutoff = 5
	}
	if o.Log == nil {
		o.Log = logger.Nop()
	}
}

// RequestQueue coalesces request writes for the connections owned by
// one worker. Write is the only thread-safe entry point into those
// connections from other threads; everything else runs on the owning
// worker.
type RequestQueue struct {
	w    *worker.Worker
	opts Options
	log  *logger.Logger

	mu    sync.Mutex
	items *ring.Queue // guarded by mu, capacity-checked against opts.Size

	wakePending atomic.Bool
	isFlushing  atomic.Bool
	isClosing   atomic.Bool
	timerIdle   atomic.Bool

	// Worker-only state.
	connections          map[*conn.Connection]struct{}
	flushesWithoutWrites int
	timer                *worker.Timer
}

// New creates a RequestQueue bound to w. The fallback timer starts idle
// and is armed by the first Write.
func New(w *worker.Worker, opts Options) *RequestQueue {
	opts.applyDefaults()
	q := &RequestQueue{
		w:           w,
		opts:        opts,
		log:         opts.Log,
		items:       ring.New(),
		connections: make(map[*conn.Connection]struct{}),
	}
	q.timer = w.NewTimer(opts.FlushInterval, q.onFlushTimer)
	q.timerIdle.Store(true)
	return q
}

// Worker returns the owning worker.
func (q *RequestQueue) Worker() *worker.Worker { return q.w }

// Write enqueues a request to be written on connection c. Thread-safe.
// Returns false, without enqueuing, when the queue is full or closing;
// that is explicit backpressure and the caller must not assume the
// request was accepted.
func (q *RequestQueue) Write(c *conn.Connection, cb conn.RequestCallback) bool {
	if q.isClosing.Load() {
		return false
	}

	q.mu.Lock()
	if q.items.Length() >= q.opts.Size {
		q.mu.Unlock()
		metrics.BackpressureRejections.Inc()
		return false
	}
	q.items.Add(item{c: c, cb: cb})
	q.mu.Unlock()

	// Re-arm the fallback timer if idle throttling stopped it.
	if q.timerIdle.CompareAndSwap(true, false) {
		q.timer.Rearm()
	}

	// Wake the owning worker unless a wake is already pending.
	if q.wakePending.CompareAndSwap(false, true) {
		if !q.w.Post(q.handleFlush) {
			q.wakePending.Store(false)
			return q.takeBack(c, cb)
		}
	}
	return true
}

// takeBack removes a just-enqueued submission after its wake failed, so
// a false return means the item was never accepted and will not be
// failed again by CloseHandles. Reports whether the submission stands:
// true means a concurrent drain already consumed it and the callback
// will resolve it.
func (q *RequestQueue) takeBack(c *conn.Connection, cb conn.RequestCallback) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	taken := false
	n := q.items.Length()
	for i := 0; i < n; i++ {
		it := q.items.Remove().(item)
		if !taken && it.c == c && it.cb == cb {
			taken = true
			continue
		}
		q.items.Add(it)
	}
	return !taken
}

// onFlushTimer is the bounded-latency fallback: it flushes and then
// either re-arms or, after IdleFlushCutoff consecutive empty cycles,
// goes idle until the next Write.
func (q *RequestQueue) onFlushTimer() {
	if q.isClosing.Load() {
		return
	}
	q.handleFlush()
	if q.flushesWithoutWrites >= q.opts.IdleFlushCutoff {
		q.timerIdle.Store(true)
		q.log.Debug("flush timer idle", logger.LogFields{"worker": q.w.Name()})
		return
	}
	q.timer.Rearm()
}

// handleFlush drains everything currently enqueued, submits each item
// on its target connection, and then requests exactly one flush per
// distinct connection touched. Runs only on the owning worker; a
// concurrent wake during a flush is a no-op.
func (q *RequestQueue) handleFlush() {
	q.wakePending.Store(false)
	if !q.isFlushing.CompareAndSwap(false, true) {
		return
	}
	defer q.isFlushing.Store(false)

	metrics.FlushCycles.Inc()

	q.mu.Lock()
	n := q.items.Length()
	batch := make([]item, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, q.items.Remove().(item))
	}
	q.mu.Unlock()

	for _, it := range batch {
		if err := it.c.Submit(it.cb); err != nil {
			// Submission failures (stream exhaustion, closed connection)
			// are reported, never retried here.
			it.cb.OnError(err)
			continue
		}
		if _, seen := q.connections[it.c]; seen {
			metrics.WritesCoalesced.Inc()
		} else {
			q.connections[it.c] = struct{}{}
		}
	}

	for c := range q.connections {
		c.Flush()
		metrics.FlushesRequested.Inc()
		delete(q.connections, c)
	}

	if len(batch) == 0 {
		q.flushesWithoutWrites++
	} else {
		q.flushesWithoutWrites = 0
	}
}

// CloseHandles marks the queue closing and stops its timer. Thread-safe
// and idempotent; Write calls racing with it fail gracefully. Items
// still enqueued are failed with a connection-closed error.
func (q *RequestQueue) CloseHandles() {
	if q.isClosing.Swap(true) {
		return
	}
	q.timer.Stop()

	drainErr := proto.NewError(proto.KindConnectionClosed, "request queue closed")
	fail := func() {
		q.mu.Lock()
		n := q.items.Length()
		leftovers := make([]item, 0, n)
		for i := 0; i < n; i++ {
			leftovers = append(leftovers, q.items.Remove().(item))
		}
		q.mu.Unlock()
		for _, it := range leftovers {
			it.cb.OnError(drainErr)
		}
	}
	// Prefer the worker so callbacks keep their threading guarantee;
	// fall back inline when the worker is already gone.
	if !q.w.Post(fail) {
		fail()
	}
}
