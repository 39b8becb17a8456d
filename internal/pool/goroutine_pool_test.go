package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestGoroutinePool_RunsTasks(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 4, QueueSize: 16})

	var done atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error {
			defer wg.Done()
			done.Add(1)
			return nil
		}))
	}
	wg.Wait()
	p.Close()

	assert.Equal(t, int32(10), done.Load())
	stats := p.Stats()
	assert.Equal(t, int64(10), stats.Submitted)
	assert.Equal(t, int64(10), stats.Completed)
	assert.LessOrEqual(t, stats.Workers, 4)
}

func TestGoroutinePool_PassesContext(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 1, QueueSize: 1})
	defer p.Close()

	type key struct{}
	got := make(chan any, 1)
	ctx := context.WithValue(context.Background(), key{}, "task-7")
	require.NoError(t, p.Submit(ctx, func(ctx context.Context) error {
		got <- ctx.Value(key{})
		return nil
	}))

	select {
	case v := <-got:
		assert.Equal(t, "task-7", v)
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
}

func TestGoroutinePool_RecoversPanics(t *testing.T) {
	var handled atomic.Value
	p := NewGoroutinePool(GoroutinePoolConfig{
		MaxWorkers:   1,
		QueueSize:    4,
		PanicHandler: func(r any) { handled.Store(r) },
	})

	ran := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error { panic("boom") }))
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
		close(ran)
		return nil
	}))

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("worker died after panic")
	}
	p.Close()

	assert.Equal(t, "boom", handled.Load())
	assert.Equal(t, int64(1), p.Stats().Panicked)
	assert.Equal(t, int64(1), p.Stats().Failed)
}

func TestGoroutinePool_Full(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 1, QueueSize: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error { return nil }))

	err := p.Submit(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolFull)
	assert.Equal(t, int64(1), p.Stats().Rejected)

	close(release)
	p.Close()
}

func TestGoroutinePool_Closed(t *testing.T) {
	p := NewGoroutinePool(DefaultGoroutinePoolConfig())
	p.Close()
	p.Close()

	err := p.Submit(context.Background(), func(context.Context) error { return nil })
	assert.True(t, errors.Is(err, ErrPoolClosed))
}

func TestGoroutinePool_CloseDrainsQueue(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 1, QueueSize: 8})

	var done atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
			time.Sleep(5 * time.Millisecond)
			done.Add(1)
			return nil
		}))
	}
	p.Close()

	assert.Equal(t, int32(5), done.Load())
}

func TestGoroutinePool_ScalesWithLoad(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 3, QueueSize: 0})
	defer p.Close()

	release := make(chan struct{})
	var started sync.WaitGroup
	for i := 0; i < 3; i++ {
		started.Add(1)
		require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
			started.Done()
			<-release
			return nil
		}))
	}
	started.Wait()

	stats := p.Stats()
	assert.Equal(t, 3, stats.Workers)
	assert.Equal(t, 3, stats.Active)
	assert.ErrorIs(t, p.Submit(context.Background(), func(context.Context) error { return nil }), ErrPoolFull)
	close(release)
}

func TestGoroutinePool_IdleWorkersExit(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 2, QueueSize: 2, IdleTimeout: 20 * time.Millisecond})
	defer p.Close()

	release := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
			defer wg.Done()
			<-release
			return nil
		}))
	}
	require.Eventually(t, func() bool { return p.Stats().Workers == 2 }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	// 最后一个 worker 常驻
	require.Eventually(t, func() bool { return p.Stats().Workers == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, p.Stats().Active)
}
