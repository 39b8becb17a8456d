package lifecycle

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/BaSui01/webpilot/agent/loop"
	"github.com/BaSui01/webpilot/agent/persistence"
	"github.com/BaSui01/webpilot/internal/pool"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisDispatcher_Enqueue(t *testing.T) {
	mr, client := newRedis(t)
	d := NewRedisDispatcher(client, "wp:", zap.NewNop())
	ctx := context.Background()

	p := loop.Payload{TaskID: "t1", Goal: "g", InitialBrowserEndpoints: []string{"ws://x"}}
	require.NoError(t, d.Dispatch(ctx, p))
	require.NoError(t, d.Dispatch(ctx, loop.Payload{TaskID: "t2", Goal: "g"}))

	n, err := d.QueueLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	items, err := mr.List("wp:dispatch")
	require.NoError(t, err)
	var got loop.Payload
	// LPUSH 后最早的在队尾
	require.NoError(t, json.Unmarshal([]byte(items[len(items)-1]), &got))
	assert.Equal(t, p, got)

	assert.True(t, d.Cancel("t1"))
}

func TestWorker_RunsAndCancels(t *testing.T) {
	_, client := newRedis(t)
	exec := newBlockingExecutor()
	local := NewPoolDispatcher(pool.GoroutinePoolConfig{MaxWorkers: 2, QueueSize: 2}, exec, zap.NewNop())
	defer local.Close()

	w := NewWorker(client, local, WorkerConfig{KeyPrefix: "wp:", PollTimeout: 100 * time.Millisecond, Backoff: 10 * time.Millisecond}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	d := NewRedisDispatcher(client, "wp:", zap.NewNop())
	require.NoError(t, d.Dispatch(context.Background(), loop.Payload{TaskID: "t1", Goal: "g"}))
	waitFor(t, exec.startedCh("t1"))

	// 订阅在 Run 开始时建立；重试直到停止消息送达
	require.Eventually(t, func() bool {
		d.Cancel("t1")
		select {
		case id := <-exec.ended:
			return id == "t1"
		default:
			return false
		}
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorker_DropsMalformedPayload(t *testing.T) {
	mr, client := newRedis(t)
	exec := newBlockingExecutor()
	local := NewPoolDispatcher(pool.GoroutinePoolConfig{MaxWorkers: 1, QueueSize: 1}, exec, zap.NewNop())
	defer local.Close()

	_, err := mr.Lpush("wp:dispatch", "{not json")
	require.NoError(t, err)

	w := NewWorker(client, local, WorkerConfig{KeyPrefix: "wp:", PollTimeout: 50 * time.Millisecond}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		items, _ := mr.List("wp:dispatch")
		return len(items) == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, local.Running())

	cancel()
	<-done
}

func TestManager_StopPersistsBeforePublishing(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()

	m := NewManager(persistence.NewMemoryTaskStore(), zap.NewNop())
	m.SetDispatcher(NewRedisDispatcher(client, "wp:", zap.NewNop()))

	task, err := m.Submit(ctx, "checkout", nil)
	require.NoError(t, err)
	require.Equal(t, persistence.StatusQueued, task.Status)

	sub := client.Subscribe(ctx, stopChannel("wp:"))
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	seen := make(chan persistence.TaskStatus, 1)
	go func() {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			close(seen)
			return
		}
		// worker 收到停止消息时，记录必须已是 stopped
		got, err := m.Get(ctx, msg.Payload)
		if err != nil {
			close(seen)
			return
		}
		seen <- got.Status
	}()

	stopped, err := m.Stop(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusStopped, stopped.Status)

	select {
	case status, ok := <-seen:
		require.True(t, ok, "stop message not received")
		assert.Equal(t, persistence.StatusStopped, status)
	case <-time.After(3 * time.Second):
		t.Fatal("stop message not received")
	}
}
