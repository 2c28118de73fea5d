package relay_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/qrelay/internal/relay"
)

func startPool(t *testing.T, cfg relay.PoolConfig) *relay.Pool {
	t.Helper()
	pool, err := relay.NewPool(cfg)
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
	})
	return pool
}

func TestPoolRunsTasks(t *testing.T) {
	pool := startPool(t, relay.PoolConfig{Workers: 2, QueueSize: 10})

	var done atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		require.NoError(t, pool.Submit("task", func(context.Context) {
			defer wg.Done()
			done.Add(1)
		}))
	}
	wg.Wait()
	assert.Equal(t, int32(10), done.Load())
}

func TestPoolRejectsWhenQueueFull(t *testing.T) {
	pool := startPool(t, relay.PoolConfig{Workers: 1, QueueSize: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.Submit("blocker", func(context.Context) {
		close(started)
		<-release
	}))
	<-started

	require.NoError(t, pool.Submit("queued", func(context.Context) {}))
	err := pool.Submit("overflow", func(context.Context) {})
	require.ErrorIs(t, err, relay.ErrQueueFull)

	assert.Equal(t, 1, pool.Inflight())
	assert.Equal(t, 1, pool.Queued())
	close(release)
}

func TestPoolSurvivesPanics(t *testing.T) {
	var panics atomic.Int32
	handler := relay.PanicHandlerFunc(func(workerID, task string, value any, stack []byte) {
		assert.Equal(t, "bad", task)
		assert.Equal(t, "boom", value)
		assert.NotEmpty(t, stack)
		panics.Add(1)
	})
	pool := startPool(t, relay.PoolConfig{Workers: 1, QueueSize: 4, PanicHandler: handler})

	require.NoError(t, pool.Submit("bad", func(context.Context) { panic("boom") }))
	ran := make(chan struct{})
	require.NoError(t, pool.Submit("good", func(context.Context) { close(ran) }))

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive the panic")
	}
	assert.Equal(t, int32(1), panics.Load())
	assert.Eventually(t, func() bool { return pool.Inflight() == 0 }, time.Second, time.Millisecond)
}

func TestPoolStopDrainsQueue(t *testing.T) {
	pool, err := relay.NewPool(relay.PoolConfig{Workers: 1, QueueSize: 5})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	var done atomic.Int32
	for range 5 {
		require.NoError(t, pool.Submit("task", func(context.Context) {
			time.Sleep(5 * time.Millisecond)
			done.Add(1)
		}))
	}

	require.NoError(t, pool.Stop(context.Background()))
	assert.Equal(t, int32(5), done.Load())
	require.ErrorIs(t, pool.Submit("late", func(context.Context) {}), relay.ErrPoolStopped)
	require.NoError(t, pool.Stop(context.Background()), "stop is idempotent")
}

func TestPoolStopCancelsOnDeadline(t *testing.T) {
	pool, err := relay.NewPool(relay.PoolConfig{Workers: 1})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	started := make(chan struct{})
	canceled := make(chan struct{})
	require.NoError(t, pool.Submit("long", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(canceled)
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = pool.Stop(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	<-canceled
}

func TestPoolLifecycleErrors(t *testing.T) {
	_, err := relay.NewPool(relay.PoolConfig{Workers: -1})
	require.Error(t, err)

	pool, err := relay.NewPool(relay.PoolConfig{})
	require.NoError(t, err)
	require.ErrorIs(t, pool.Submit("early", func(context.Context) {}), relay.ErrPoolStopped)

	require.NoError(t, pool.Start(context.Background()))
	require.Error(t, pool.Start(context.Background()))
	require.NoError(t, pool.Stop(context.Background()))
	require.ErrorIs(t, pool.Start(context.Background()), relay.ErrPoolStopped)
}
