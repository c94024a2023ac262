// Package worker provides the execution contexts that own connections.
// Each Worker runs an independent event loop on its own goroutine;
// everything posted to a worker runs serialized on that goroutine, which
// is what lets per-connection state go lock-free.
package worker

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Worker is a single-goroutine event loop. A Worker's pointer identity
// doubles as its registry key.
type Worker struct {
	name  string
	inbox chan func()
	quit  chan struct{}
	done  chan struct{}

	started  atomic.Bool
	stopping atomic.Bool
	stopOnce sync.Once
}

// New creates a Worker with a bounded inbox. It is not running until
// Start is called.
func New(name string, inboxSize int) *Worker {
	if inboxSize <= 0 {
		inboxSize = 256
	}
	return &Worker{
		name:  name,
		inbox: make(chan func(), inboxSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Name returns the worker's name, for logging.
func (w *Worker) Name() string { return w.name }

// Start launches the event loop goroutine. Idempotent.
func (w *Worker) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run()
}

func (w *Worker) run() {
	defer close(w.done)
	for {
		select {
		case fn := <-w.inbox:
			fn()
		case <-w.quit:
			// Drain what was accepted before the stop so posted work is
			// either run or visibly rejected, never dropped silently.
			for {
				select {
				case fn := <-w.inbox:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Post schedules fn to run on the worker, blocking if the inbox is full.
// It is the cross-thread wake primitive. Returns false once the worker
// is stopping; fn is not run in that case.
func (w *Worker) Post(fn func()) bool {
	if w.stopping.Load() {
		return false
	}
	select {
	case w.inbox <- fn:
		return true
	case <-w.quit:
		return false
	}
}

// TryPost is Post without blocking: false when the inbox is full or the
// worker is stopping.
func (w *Worker) TryPost(fn func()) bool {
	if w.stopping.Load() {
		return false
	}
	select {
	case w.inbox <- fn:
		return true
	default:
		return false
	}
}

// Stop shuts the loop down and waits for it to finish. Idempotent and
// safe from any goroutine except the worker's own.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.stopping.Store(true)
		close(w.quit)
	})
	if w.started.Load() {
		<-w.done
	}
}

// Timer is a one-shot timer whose callback runs on the owning worker.
// Rearm and Stop are safe from any goroutine; the callback decides
// whether to re-arm, which gives repeating behavior without a separate
// ticker goroutine.
type Timer struct {
	w  *Worker
	d  time.Duration
	fn func()

	mu      sync.Mutex
	t       *time.Timer
	stopped bool
}

// NewTimer creates an unarmed timer bound to the worker.
func (w *Worker) NewTimer(d time.Duration, fn func()) *Timer {
	return &Timer{w: w, d: d, fn: fn}
}

// Rearm schedules the next fire, replacing any pending one.
func (t *Timer) Rearm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if t.t != nil {
		t.t.Stop()
	}
	t.t = time.AfterFunc(t.d, func() {
		t.mu.Lock()
		stopped := t.stopped
		t.mu.Unlock()
		if stopped {
			return
		}
		t.w.Post(t.fn)
	})
}

// Disarm cancels any pending fire without tearing the timer down.
func (t *Timer) Disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
}

// Stop permanently disables the timer. Idempotent.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
}

// Group is a fixed set of workers created at driver startup.
type Group struct {
	workers []*Worker
	next    atomic.Uint32
}

// NewGroup creates and starts n workers.
func NewGroup(n, inboxSize int) *Group {
	if n <= 0 {
		n = 1
	}
	g := &Group{workers: make([]*Worker, n)}
	for i := range g.workers {
		g.workers[i] = New("worker-"+strconv.Itoa(i), inboxSize)
		g.workers[i].Start()
	}
	return g
}

// Workers returns the members of the group.
func (g *Group) Workers() []*Worker { return g.workers }

// Next picks a worker round-robin, for pinning new connections.
func (g *Group) Next() *Worker {
	i := g.next.Add(1) - 1
	return g.workers[int(i)%len(g.workers)]
}

// Stop stops every worker and waits for their loops to exit.
func (g *Group) Stop() {
	for _, w := range g.workers {
		w.Stop()
	}
}
