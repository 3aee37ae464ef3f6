package commandqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueue(t *testing.T) *CommandQueue {
	t.Helper()
	cq := New(Options{})
	t.Cleanup(func() { _ = cq.Close() })
	return cq
}

func TestSessionLaneAndKind(t *testing.T) {
	assert.Equal(t, "session:abc", SessionLane("abc"))
	assert.Equal(t, "session", LaneKind(SessionLane("abc")))
	assert.Equal(t, TranscribeLane, LaneKind(TranscribeLane))
}

func TestCommandQueue_BasicEnqueue(t *testing.T) {
	cq := newQueue(t)

	executed := false
	task := func(ctx context.Context) (interface{}, error) {
		executed = true
		return "result", nil
	}

	result, err := cq.Enqueue(context.Background(), "test", task, nil)

	assert.NoError(t, err)
	assert.Equal(t, "result", result)
	assert.True(t, executed)
}

func TestCommandQueue_TaskError(t *testing.T) {
	cq := newQueue(t)

	expectedErr := errors.New("task failed")
	task := func(ctx context.Context) (interface{}, error) {
		return nil, expectedErr
	}

	result, err := cq.Enqueue(context.Background(), "test", task, nil)

	assert.ErrorIs(t, err, expectedErr)
	assert.Nil(t, result)
}

func TestCommandQueue_FIFOWithinLane(t *testing.T) {
	cq := newQueue(t)
	lane := SessionLane("fifo")

	var (
		mu      sync.Mutex
		order   []int
		running int32
		overlap bool
	)

	// Hold the lane so the following submissions queue up in a known order.
	gate := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue(context.Background(), lane, func(ctx context.Context) (interface{}, error) {
			close(started)
			<-gate
			return nil, nil
		}, nil)
	}()
	<-started

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cq.Enqueue(context.Background(), lane, func(ctx context.Context) (interface{}, error) {
				if atomic.AddInt32(&running, 1) > 1 {
					overlap = true
				}
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				atomic.AddInt32(&running, -1)
				return nil, nil
			}, nil)
		}()
		// Serialize submission so arrival order is i.
		require.Eventually(t, func() bool { return cq.GetQueueSize(lane) == i+1 }, time.Second, time.Millisecond)
	}

	close(gate)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.False(t, overlap, "session lane ran two tasks at once")
}

func TestCommandQueue_LanesRunConcurrently(t *testing.T) {
	cq := newQueue(t)

	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)

	var wg sync.WaitGroup
	for _, lane := range []string{SessionLane("a"), SessionLane("b")} {
		lane := lane
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cq.Enqueue(context.Background(), lane, func(ctx context.Context) (interface{}, error) {
				started.Done()
				<-release
				return nil, nil
			}, nil)
		}()
	}

	done := make(chan struct{})
	go func() {
		started.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tasks in distinct lanes did not run concurrently")
	}
	close(release)
	wg.Wait()
}

func TestCommandQueue_PanicReleasesLane(t *testing.T) {
	cq := newQueue(t)
	lane := SessionLane("panic")

	_, err := cq.Enqueue(context.Background(), lane, func(ctx context.Context) (interface{}, error) {
		panic("boom")
	}, nil)
	assert.ErrorIs(t, err, ErrTaskPanic)

	result, err := cq.Enqueue(context.Background(), lane, func(ctx context.Context) (interface{}, error) {
		return "after", nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "after", result)
	assert.Equal(t, 0, cq.GetRunningCount(lane))
}

func TestCommandQueue_EnqueueOnce(t *testing.T) {
	cq := newQueue(t)
	lane := SessionLane("dedup")

	var calls int32
	task := func(ctx context.Context) (interface{}, error) {
		n := atomic.AddInt32(&calls, 1)
		return n, nil
	}

	v1, replayed, err := cq.EnqueueOnce(context.Background(), lane, "req-1", task, nil)
	require.NoError(t, err)
	assert.False(t, replayed)

	v2, replayed, err := cq.EnqueueOnce(context.Background(), lane, "req-1", task, nil)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, v1, v2)

	_, replayed, err = cq.EnqueueOnce(context.Background(), lane, "req-2", task, nil)
	require.NoError(t, err)
	assert.False(t, replayed)

	// Same request id in another lane is a different request.
	_, replayed, err = cq.EnqueueOnce(context.Background(), SessionLane("other"), "req-1", task, nil)
	require.NoError(t, err)
	assert.False(t, replayed)

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestCommandQueue_EnqueueOnceConcurrentDuplicates(t *testing.T) {
	cq := newQueue(t)
	lane := SessionLane("dup")

	var calls int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := cq.EnqueueOnce(context.Background(), lane, "same", func(ctx context.Context) (interface{}, error) {
				atomic.AddInt32(&calls, 1)
				time.Sleep(5 * time.Millisecond)
				return "ok", nil
			}, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCommandQueue_EnqueueOnceDoesNotCacheFailures(t *testing.T) {
	cq := newQueue(t)
	lane := SessionLane("retry")

	attempt := 0
	task := func(ctx context.Context) (interface{}, error) {
		attempt++
		if attempt == 1 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	}

	_, _, err := cq.EnqueueOnce(context.Background(), lane, "req", task, nil)
	assert.Error(t, err)

	v, replayed, err := cq.EnqueueOnce(context.Background(), lane, "req", task, nil)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, "ok", v)
}

func TestCommandQueue_GetStats(t *testing.T) {
	cq := New(Options{TranscribeConcurrency: 2})
	defer cq.Close()

	stats := cq.GetStats()

	assert.Len(t, stats, 1)
	assert.Contains(t, stats, TranscribeLane)
	assert.Equal(t, 2, stats[TranscribeLane]["concurrency"])
}

func TestCommandQueue_PruneIdleLanes(t *testing.T) {
	cq := newQueue(t)

	for _, id := range []string{"live", "dead"} {
		_, err := cq.Enqueue(context.Background(), SessionLane(id), func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}, nil)
		require.NoError(t, err)
	}

	// A busy lane survives even if its session is gone.
	release := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue(context.Background(), SessionLane("busy"), func(ctx context.Context) (interface{}, error) {
			<-release
			return nil, nil
		}, nil)
	}()
	require.Eventually(t, func() bool { return cq.GetRunningCount(SessionLane("busy")) == 1 }, time.Second, time.Millisecond)

	pruned := cq.PruneIdleLanes(func(id string) bool { return id == "live" })
	close(release)

	assert.Equal(t, 1, pruned)
	assert.True(t, cq.HasLane(SessionLane("live")))
	assert.False(t, cq.HasLane(SessionLane("dead")))
	assert.True(t, cq.HasLane(SessionLane("busy")))
	assert.True(t, cq.HasLane(TranscribeLane))
}

func TestCommandQueue_WarnAfter(t *testing.T) {
	cq := newQueue(t)
	lane := SessionLane("slow")

	release := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue(context.Background(), lane, func(ctx context.Context) (interface{}, error) {
			<-release
			return nil, nil
		}, nil)
	}()
	require.Eventually(t, func() bool { return cq.GetRunningCount(lane) == 1 }, time.Second, time.Millisecond)

	warned := make(chan int, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = cq.Enqueue(context.Background(), lane, func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}, &TaskOptions{
			WarnAfter: 20 * time.Millisecond,
			OnWait:    func(wait time.Duration, pos int) { warned <- pos },
		})
	}()

	select {
	case pos := <-warned:
		assert.Equal(t, 0, pos)
	case <-time.After(time.Second):
		t.Fatal("OnWait was not called")
	}
	close(release)
	<-done
}

func TestCommandQueue_WaitForActive(t *testing.T) {
	cq := newQueue(t)

	go func() {
		_, _ = cq.Enqueue(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
			time.Sleep(50 * time.Millisecond)
			return nil, nil
		}, nil)
	}()

	time.Sleep(10 * time.Millisecond)

	assert.True(t, cq.WaitForActive(time.Second))
}

func TestCommandQueue_Close(t *testing.T) {
	cq := New(Options{})

	started := make(chan struct{})
	errs := make(chan error, 2)
	go func() {
		_, err := cq.Enqueue(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}, nil)
		errs <- err
	}()
	<-started
	go func() {
		_, err := cq.Enqueue(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}, nil)
		errs <- err
	}()
	require.Eventually(t, func() bool { return cq.GetQueueSize("test") == 1 }, time.Second, time.Millisecond)

	require.NoError(t, cq.Close())

	for i := 0; i < 2; i++ {
		err := <-errs
		assert.True(t, errors.Is(err, context.Canceled) || errors.Is(err, ErrClosed), "unexpected error: %v", err)
	}

	_, err := cq.Enqueue(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}, nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, cq.Close())
}
