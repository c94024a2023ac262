package queue

import (
	"fmt"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"example.com/cqlwire/internal/conn"
	"example.com/cqlwire/internal/logger"
	"example.com/cqlwire/internal/worker"
)

// Manager maps each worker of a group to its RequestQueue. The mapping
// is immutable after Init; lookups are thread-safe.
type Manager struct {
	group  *worker.Group
	log    *logger.Logger
	queues *xsync.MapOf[*worker.Worker, *RequestQueue]
	inited atomic.Bool
	closed atomic.Bool
}

// NewManager creates a Manager for the worker group. Call Init before
// use.
func NewManager(group *worker.Group, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		group:  group,
		log:    log,
		queues: xsync.NewMapOf[*worker.Worker, *RequestQueue](),
	}
}

// Init creates one identically-sized RequestQueue per worker. It is
// all-or-nothing: on failure no queue is reachable through Get.
func (m *Manager) Init(opts Options) error {
	if m.inited.Swap(true) {
		return fmt.Errorf("request queue manager already initialized")
	}
	if opts.Log == nil {
		opts.Log = m.log
	}
	workers := m.group.Workers()
	if len(workers) == 0 {
		m.inited.Store(false)
		return fmt.Errorf("worker group is empty")
	}
	built := make([]*RequestQueue, 0, len(workers))
	for _, w := range workers {
		built = append(built, New(w, opts))
	}
	for i, w := range workers {
		m.queues.Store(w, built[i])
	}
	m.log.Info("request queues initialized",
		logger.LogFields{"workers": len(workers), "queue_size": built[0].opts.Size})
	return nil
}

// Get returns the request queue handling requests for the given worker.
// Thread-safe. A worker outside the registered group is a caller bug
// and fails loudly instead of returning a default.
func (m *Manager) Get(w *worker.Worker) (*RequestQueue, error) {
	q, ok := m.queues.Load(w)
	if !ok {
		return nil, fmt.Errorf("worker %s has no request queue: not part of the registered group", w.Name())
	}
	return q, nil
}

// Write routes a submission to the queue owned by the connection's
// worker. Thread-safe; false means backpressure or an unregistered
// worker.
func (m *Manager) Write(c *conn.Connection, cb conn.RequestCallback) bool {
	q, err := m.Get(c.Worker())
	if err != nil {
		m.log.Error("write to unregistered worker", logger.LogFields{"error": err.Error()})
		return false
	}
	return q.Write(c, cb)
}

// CloseHandles closes every owned queue. Thread-safe and idempotent.
func (m *Manager) CloseHandles() {
	if m.closed.Swap(true) {
		return
	}
	m.queues.Range(func(_ *worker.Worker, q *RequestQueue) bool {
		q.CloseHandles()
		return true
	})
}
