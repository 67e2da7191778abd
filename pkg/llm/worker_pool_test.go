package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestProcessRunsAllItems(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: 3}, zap.NewNop())

	items := make([]WorkItem[int], 10)
	for i := range items {
		v := i
		items[i] = WorkItem[int]{
			ID:      string(rune('a' + i)),
			Execute: func(context.Context) (int, error) { return v, nil },
		}
	}

	var progress atomic.Int32
	results := Process(context.Background(), pool, items, func(completed, total int) {
		progress.Store(int32(completed))
		assert.Equal(t, 10, total)
	})

	require.Len(t, results, 10)
	assert.Equal(t, int32(10), progress.Load())

	sum := 0
	for _, r := range results {
		require.NoError(t, r.Err)
		sum += r.Result
	}
	assert.Equal(t, 45, sum)
}

func TestProcessBoundsConcurrency(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: 2}, zap.NewNop())

	var active, peak atomic.Int32
	items := make([]WorkItem[struct{}], 8)
	for i := range items {
		items[i] = WorkItem[struct{}]{Execute: func(context.Context) (struct{}, error) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			active.Add(-1)
			return struct{}{}, nil
		}}
	}

	Process(context.Background(), pool, items, nil)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestProcessContinuesThroughFailures(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: 2}, zap.NewNop())

	boom := errors.New("boom")
	items := []WorkItem[string]{
		{ID: "ok", Execute: func(context.Context) (string, error) { return "fine", nil }},
		{ID: "bad", Execute: func(context.Context) (string, error) { return "", boom }},
	}

	results := Process(context.Background(), pool, items, nil)
	require.Len(t, results, 2)

	byID := make(map[string]WorkResult[string])
	for _, r := range results {
		byID[r.ID] = r
	}
	assert.NoError(t, byID["ok"].Err)
	assert.ErrorIs(t, byID["bad"].Err, boom)
}

func TestProcessCancelledContext(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: 1}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	started := make(chan struct{}, 1)
	items := []WorkItem[int]{
		{ID: "a", Execute: func(context.Context) (int, error) {
			started <- struct{}{}
			return 1, nil
		}},
	}

	results := Process(ctx, pool, items, nil)
	require.Len(t, results, 1)
	// Either the item ran before the cancel was observed or it was rejected.
	if results[0].Err != nil {
		assert.ErrorIs(t, results[0].Err, context.Canceled)
	}
}

func TestProcessEmpty(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: 2}, zap.NewNop())
	assert.Nil(t, Process[int](context.Background(), pool, nil, nil))
}

func TestNewWorkerPoolDefaultsConcurrency(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{}, zap.NewNop())
	assert.Equal(t, 5, pool.config.MaxConcurrent)
}
