package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/webpilot/agent/loop"
	"github.com/BaSui01/webpilot/internal/pool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis key layout shared by RedisDispatcher and Worker.
func queueKey(prefix string) string   { return prefix + "dispatch" }
func stopChannel(prefix string) string { return prefix + "dispatch:stop" }

// RedisDispatcher pushes payloads onto a redis list consumed by Workers.
type RedisDispatcher struct {
	client redis.UniversalClient
	queue  string
	stop   string
	logger *zap.Logger
}

// NewRedisDispatcher creates a dispatcher over the {prefix}dispatch list.
func NewRedisDispatcher(client redis.UniversalClient, prefix string, logger *zap.Logger) *RedisDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisDispatcher{
		client: client,
		queue:  queueKey(prefix),
		stop:   stopChannel(prefix),
		logger: logger.With(zap.String("component", "redis_dispatcher")),
	}
}

func (d *RedisDispatcher) Dispatch(ctx context.Context, p loop.Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := d.client.LPush(ctx, d.queue, data).Err(); err != nil {
		return fmt.Errorf("enqueue payload: %w", err)
	}
	d.logger.Debug("payload enqueued", zap.String("task_id", p.TaskID))
	return nil
}

// Cancel publishes the task id on the stop channel. It reports whether the
// message was published; whether a worker was running the task is unknown.
func (d *RedisDispatcher) Cancel(taskID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.client.Publish(ctx, d.stop, taskID).Err(); err != nil {
		d.logger.Warn("publish stop failed", zap.String("task_id", taskID), zap.Error(err))
		return false
	}
	return true
}

// QueueLength returns the number of payloads waiting.
func (d *RedisDispatcher) QueueLength(ctx context.Context) (int64, error) {
	return d.client.LLen(ctx, d.queue).Result()
}

var _ Dispatcher = (*RedisDispatcher)(nil)

// =============================================================================
// Worker
// =============================================================================

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	KeyPrefix   string
	PollTimeout time.Duration
	// Backoff is the pause after a redis error or a full pool.
	Backoff time.Duration
}

// Worker consumes the dispatch queue and runs payloads on a local
// PoolDispatcher. Stop messages cancel loops running on this worker.
type Worker struct {
	client redis.UniversalClient
	local  *PoolDispatcher
	queue  string
	stop   string
	cfg    WorkerConfig
	logger *zap.Logger
}

// NewWorker 创建队列消费者。local 的生命周期由调用方管理。
func NewWorker(client redis.UniversalClient, local *PoolDispatcher, cfg WorkerConfig, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	return &Worker{
		client: client,
		local:  local,
		queue:  queueKey(cfg.KeyPrefix),
		stop:   stopChannel(cfg.KeyPrefix),
		cfg:    cfg,
		logger: logger.With(zap.String("component", "worker")),
	}
}

// Run blocks until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	sub := w.client.Subscribe(ctx, w.stop)
	// 确认订阅已建立，避免丢失早期的停止消息
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", w.stop, err)
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for msg := range sub.Channel() {
			if w.local.Cancel(msg.Payload) {
				w.logger.Info("loop cancelled", zap.String("task_id", msg.Payload))
			}
		}
	}()
	defer func() {
		_ = sub.Close()
		<-stopped
	}()

	w.logger.Info("worker started", zap.String("queue", w.queue))
	for ctx.Err() == nil {
		res, err := w.client.BRPop(ctx, w.cfg.PollTimeout, w.queue).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.logger.Warn("dequeue failed", zap.Error(err))
			w.sleep(ctx)
			continue
		}
		if len(res) != 2 {
			continue
		}
		w.handle(ctx, res[1])
	}
	w.logger.Info("worker stopped")
	return nil
}

func (w *Worker) handle(ctx context.Context, raw string) {
	var p loop.Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil || p.TaskID == "" {
		w.logger.Error("dropping malformed payload", zap.String("payload", raw), zap.Error(err))
		return
	}

	err := w.local.Dispatch(ctx, p)
	if err == nil {
		return
	}
	if errors.Is(err, pool.ErrPoolFull) || errors.Is(err, pool.ErrPoolClosed) {
		// 放回队尾（BRPOP 端），保持先进先出
		if perr := w.client.RPush(context.WithoutCancel(ctx), w.queue, raw).Err(); perr != nil {
			w.logger.Error("requeue failed", zap.String("task_id", p.TaskID), zap.Error(perr))
		}
		w.sleep(ctx)
		return
	}
	w.logger.Error("local dispatch failed", zap.String("task_id", p.TaskID), zap.Error(err))
}

func (w *Worker) sleep(ctx context.Context) {
	t := time.NewTimer(w.cfg.Backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
