package queue

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/cqlwire/internal/conn"
	"example.com/cqlwire/internal/logger"
	"example.com/cqlwire/internal/worker"
)

func newTestManager(t *testing.T, workers int) (*Manager, *worker.Group) {
	t.Helper()
	group := worker.NewGroup(workers, 64)
	t.Cleanup(group.Stop)
	mgr := NewManager(group, logger.Nop())
	require.NoError(t, mgr.Init(Options{Size: 16, FlushInterval: time.Hour}))
	t.Cleanup(mgr.CloseHandles)
	return mgr, group
}

func TestManagerOneQueuePerWorker(t *testing.T) {
	t.Parallel()

	mgr, group := newTestManager(t, 3)
	seen := make(map[*RequestQueue]bool)
	for _, w := range group.Workers() {
		q, err := mgr.Get(w)
		require.NoError(t, err)
		require.Same(t, w, q.Worker())
		require.False(t, seen[q], "workers must not share a queue")
		seen[q] = true
	}
}

func TestManagerInitTwice(t *testing.T) {
	t.Parallel()

	mgr, _ := newTestManager(t, 1)
	assert.Error(t, mgr.Init(Options{Size: 16}))
}

func TestManagerGetUnknownWorker(t *testing.T) {
	t.Parallel()

	mgr, _ := newTestManager(t, 2)
	outsider := worker.New("outsider", 8)
	_, err := mgr.Get(outsider)
	require.Error(t, err, "a worker outside the group fails loudly, not silently")
	assert.Contains(t, err.Error(), "outsider")
}

func TestManagerWriteRoutesByConnectionWorker(t *testing.T) {
	t.Parallel()

	mgr, group := newTestManager(t, 2)
	client, _ := net.Pipe()
	c := conn.NewConnection(client, group.Workers()[1], conn.Options{Host: "node-1", Log: logger.Nop()})

	errs := make(chan error, 4)
	ok := mgr.Write(c, &qRequest{statement: "SELECT 1", results: make(chan int8, 4), errs: errs})
	assert.True(t, ok, "routed to the queue owned by the connection's worker")
}

func TestManagerWriteUnregisteredWorker(t *testing.T) {
	t.Parallel()

	mgr, _ := newTestManager(t, 1)
	outsider := worker.New("outsider", 8)
	outsider.Start()
	defer outsider.Stop()

	client, _ := net.Pipe()
	c := conn.NewConnection(client, outsider, conn.Options{Host: "node-1", Log: logger.Nop()})
	assert.False(t, mgr.Write(c, &qRequest{
		statement: "SELECT 1",
		results:   make(chan int8, 1),
		errs:      make(chan error, 1),
	}))
}

func TestManagerCloseHandlesIdempotent(t *testing.T) {
	t.Parallel()

	mgr, group := newTestManager(t, 2)
	mgr.CloseHandles()
	mgr.CloseHandles()

	q, err := mgr.Get(group.Workers()[0])
	require.NoError(t, err)
	client, _ := net.Pipe()
	c := conn.NewConnection(client, group.Workers()[0], conn.Options{Host: "node-1", Log: logger.Nop()})
	assert.False(t, q.Write(c, &qRequest{
		statement: "SELECT 1",
		results:   make(chan int8, 1),
		errs:      make(chan error, 1),
	}), "queues stay closed after CloseHandles")
}
