package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

func TestPool_RunsAllQueuedJobs(t *testing.T) {
	pool := NewPool(context.Background(), Options{Workers: 3, QueueSize: 10, Logger: quietLogger()})
	pool.Start()

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		err := pool.Submit(Func{ID: "j", Desc: "count", Fn: func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}})
		require.NoError(t, err)
	}

	pool.Shutdown()
	assert.Equal(t, int32(10), ran.Load())
}

func TestPool_BoundsConcurrency(t *testing.T) {
	pool := NewPool(context.Background(), Options{Workers: 2, QueueSize: 8, Logger: quietLogger()})
	pool.Start()

	var current, peak atomic.Int32
	var mu sync.Mutex
	for i := 0; i < 8; i++ {
		require.NoError(t, pool.Submit(Func{ID: "j", Fn: func(ctx context.Context) error {
			n := current.Add(1)
			mu.Lock()
			if n > peak.Load() {
				peak.Store(n)
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
			return nil
		}}))
	}

	pool.Shutdown()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPool_FailingJobDoesNotStopOthers(t *testing.T) {
	pool := NewPool(context.Background(), Options{Workers: 1, QueueSize: 3, Logger: quietLogger()})
	pool.Start()

	var ran atomic.Int32
	require.NoError(t, pool.Submit(Func{ID: "bad", Fn: func(ctx context.Context) error { return errors.New("boom") }}))
	require.NoError(t, pool.Submit(Func{ID: "good", Fn: func(ctx context.Context) error { ran.Add(1); return nil }}))

	pool.Shutdown()
	assert.Equal(t, int32(1), ran.Load())
}

func TestPool_SubmitErrors(t *testing.T) {
	pool := NewPool(context.Background(), Options{Workers: 1, QueueSize: 1, Logger: quietLogger()})

	// Not started, so the single slot stays occupied.
	require.NoError(t, pool.Submit(Func{ID: "a", Fn: func(ctx context.Context) error { return nil }}))
	assert.ErrorIs(t, pool.Submit(Func{ID: "b", Fn: func(ctx context.Context) error { return nil }}), ErrQueueFull)

	pool.Start()
	pool.Shutdown()
	assert.ErrorIs(t, pool.Submit(Func{ID: "c", Fn: func(ctx context.Context) error { return nil }}), ErrStopped)
}

func TestPool_JobTimeout(t *testing.T) {
	pool := NewPool(context.Background(), Options{Workers: 1, QueueSize: 1, JobTimeout: 10 * time.Millisecond, Logger: quietLogger()})
	pool.Start()

	var gotErr atomic.Value
	require.NoError(t, pool.Submit(Func{ID: "slow", Fn: func(ctx context.Context) error {
		<-ctx.Done()
		gotErr.Store(ctx.Err())
		return ctx.Err()
	}}))

	pool.Shutdown()
	assert.Equal(t, context.DeadlineExceeded, gotErr.Load())
}

func TestPool_ShutdownWithTimeoutCancelsRunningJobs(t *testing.T) {
	pool := NewPool(context.Background(), Options{Workers: 1, QueueSize: 1, Logger: quietLogger()})
	pool.Start()

	started := make(chan struct{})
	require.NoError(t, pool.Submit(Func{ID: "stuck", Fn: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}))
	<-started

	assert.False(t, pool.ShutdownWithTimeout(10*time.Millisecond))
}
