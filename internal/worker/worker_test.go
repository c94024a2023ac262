package worker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPostRunsInOrder(t *testing.T) {
	t.Parallel()

	w := New("order", 64)
	w.Start()
	defer w.Stop()

	var got []int
	var wg sync.WaitGroup
	wg.Add(10)
	for i := 0; i < 10; i++ {
		i := i
		require.True(t, w.Post(func() {
			got = append(got, i)
			wg.Done()
		}))
	}
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestWorkerSerializesPosters(t *testing.T) {
	t.Parallel()

	w := New("serial", 256)
	w.Start()
	defer w.Stop()

	// Unsynchronized counter: only safe because every increment runs on
	// the one worker goroutine.
	counter := 0
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				done := make(chan struct{})
				if w.Post(func() { counter++; close(done) }) {
					<-done
				}
			}
		}()
	}
	wg.Wait()

	final := make(chan int, 1)
	require.True(t, w.Post(func() { final <- counter }))
	assert.Equal(t, 800, <-final)
}

func TestWorkerPostAfterStop(t *testing.T) {
	t.Parallel()

	w := New("stopped", 8)
	w.Start()
	w.Stop()

	assert.False(t, w.Post(func() { t.Error("must not run") }))
	assert.False(t, w.TryPost(func() { t.Error("must not run") }))
}

func TestWorkerStopIdempotent(t *testing.T) {
	t.Parallel()

	w := New("twice", 8)
	w.Start()
	w.Stop()
	w.Stop()
}

func TestWorkerStopDrainsAcceptedWork(t *testing.T) {
	t.Parallel()

	w := New("drain", 64)
	var ran atomic.Int32
	for i := 0; i < 20; i++ {
		w.inbox <- func() { ran.Add(1) }
	}
	w.Start()
	w.Stop()
	assert.Equal(t, int32(20), ran.Load(), "work accepted before stop is run, not dropped")
}

func TestTimerFiresOnWorker(t *testing.T) {
	t.Parallel()

	w := New("timer", 8)
	w.Start()
	defer w.Stop()

	fired := make(chan struct{}, 1)
	tm := w.NewTimer(5*time.Millisecond, func() { fired <- struct{}{} })
	tm.Rearm()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestTimerStopPreventsFire(t *testing.T) {
	t.Parallel()

	w := New("timer-stop", 8)
	w.Start()
	defer w.Stop()

	tm := w.NewTimer(10*time.Millisecond, func() { t.Error("stopped timer fired") })
	tm.Rearm()
	tm.Stop()
	time.Sleep(50 * time.Millisecond)

	// Rearm after Stop is a no-op.
	tm.Rearm()
	time.Sleep(50 * time.Millisecond)
}

func TestTimerDisarmAndRearm(t *testing.T) {
	t.Parallel()

	w := New("timer-rearm", 8)
	w.Start()
	defer w.Stop()

	fired := make(chan struct{}, 4)
	tm := w.NewTimer(10*time.Millisecond, func() { fired <- struct{}{} })
	tm.Rearm()
	tm.Disarm()
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, fired, "disarmed timer must not fire")

	tm.Rearm()
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("rearmed timer never fired")
	}
}

func TestGroupRoundRobin(t *testing.T) {
	t.Parallel()

	g := NewGroup(3, 8)
	defer g.Stop()

	require.Len(t, g.Workers(), 3)
	first := g.Next()
	second := g.Next()
	third := g.Next()
	assert.NotSame(t, first, second)
	assert.NotSame(t, second, third)
	assert.Same(t, first, g.Next(), "assignment wraps around")
}

func TestGroupMinimumSize(t *testing.T) {
	t.Parallel()

	g := NewGroup(0, 8)
	defer g.Stop()
	require.Len(t, g.Workers(), 1)
	assert.Same(t, g.Workers()[0], g.Next())
}
