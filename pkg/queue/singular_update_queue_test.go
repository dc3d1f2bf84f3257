package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubmitByASingleTask(t *testing.T) {
	q := New(10)
	defer q.Shutdown()

	storage := map[string]string{}
	done := make(chan struct{})

	require.NoError(t, q.Submit(func(ctx context.Context) {
		storage["WAL"] = "write-ahead log"
		close(done)
	}))

	<-done
	require.Equal(t, "write-ahead log", storage["WAL"])
}

func TestSubmitByMultipleTasksNoLockingNeeded(t *testing.T) {
	q := New(10)
	defer q.Shutdown()

	storage := map[string]string{}
	var wg sync.WaitGroup
	wg.Add(2)

	require.NoError(t, q.Submit(func(ctx context.Context) {
		storage["WAL"] = "write-ahead log"
		wg.Done()
	}))
	require.NoError(t, q.Submit(func(ctx context.Context) {
		storage["RAFT"] = "consensus"
		wg.Done()
	}))

	wg.Wait()
	require.Equal(t, "write-ahead log", storage["WAL"])
	require.Equal(t, "consensus", storage["RAFT"])
}

func TestHandlersExecuteInSubmissionOrder(t *testing.T) {
	q := New(10)
	defer q.Shutdown()

	var order []string
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)

	require.NoError(t, q.Submit(func(ctx context.Context) {
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
		wg.Done()
	}))
	require.NoError(t, q.Submit(func(ctx context.Context) {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
		wg.Done()
	}))

	wg.Wait()
	require.Equal(t, []string{"first", "second"}, order)
}

func TestPanickingHandlerDoesNotStallTheWorker(t *testing.T) {
	q := New(10)
	defer q.Shutdown()

	done := make(chan struct{})
	require.NoError(t, q.Submit(func(ctx context.Context) {
		panic("boom")
	}))
	require.NoError(t, q.Submit(func(ctx context.Context) {
		close(done)
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker stalled after a panicking handler")
	}
}

func TestSubmitAfterShutdownFails(t *testing.T) {
	q := New(10)
	q.Shutdown()

	err := q.Submit(func(ctx context.Context) {})
	require.ErrorIs(t, err, ErrShutdown)
}

func TestShutdownDrainsInFlightWork(t *testing.T) {
	q := New(10)
	done := make(chan struct{})
	require.NoError(t, q.Submit(func(ctx context.Context) {
		time.Sleep(10 * time.Millisecond)
		close(done)
	}))

	q.Shutdown()
	select {
	case <-done:
	default:
		t.Fatal("shutdown returned before in-flight handler finished")
	}
}
