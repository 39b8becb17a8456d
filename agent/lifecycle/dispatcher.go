package lifecycle

import (
	"context"
	"sync"

	"github.com/BaSui01/webpilot/agent/loop"
	"github.com/BaSui01/webpilot/internal/pool"
	"go.uber.org/zap"
)

// Executor runs one loop to completion. *loop.Runner implements it.
type Executor interface {
	Execute(ctx context.Context, p loop.Payload) loop.Result
}

var _ Executor = (*loop.Runner)(nil)

// PoolDispatcher runs loops in-process on a bounded goroutine pool.
// Each running loop gets its own cancel func so Stop can interrupt it.
type PoolDispatcher struct {
	pool   *pool.GoroutinePool
	exec   Executor
	logger *zap.Logger

	base   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running map[string]*execution
}

type execution struct {
	cancel context.CancelFunc
}

// NewPoolDispatcher 创建进程内调度器，持有并最终关闭 goroutine 池。
func NewPoolDispatcher(cfg pool.GoroutinePoolConfig, exec Executor, logger *zap.Logger) *PoolDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "pool_dispatcher"))
	if cfg.PanicHandler == nil {
		cfg.PanicHandler = func(r any) {
			logger.Error("loop panicked", zap.Any("panic", r))
		}
	}
	base, cancel := context.WithCancel(context.Background())
	return &PoolDispatcher{
		pool:    pool.NewGoroutinePool(cfg),
		exec:    exec,
		logger:  logger,
		base:    base,
		cancel:  cancel,
		running: make(map[string]*execution),
	}
}

// Dispatch hands the payload to the pool. The loop does not inherit the
// caller's cancellation; it ends on Cancel, Close or its own termination.
func (d *PoolDispatcher) Dispatch(ctx context.Context, p loop.Payload) error {
	runCtx, cancel := context.WithCancel(d.base)
	exe := &execution{cancel: cancel}

	d.mu.Lock()
	if prev, ok := d.running[p.TaskID]; ok {
		// 恢复时旧循环可能仍在收尾
		prev.cancel()
	}
	d.running[p.TaskID] = exe
	d.mu.Unlock()

	err := d.pool.Submit(runCtx, func(ctx context.Context) error {
		defer d.release(p.TaskID, exe)
		res := d.exec.Execute(ctx, p)
		d.logger.Info("loop finished",
			zap.String("task_id", p.TaskID),
			zap.String("termination", string(res.Termination)),
			zap.Int("iterations", res.Iterations),
			zap.String("reason", res.Reason))
		return nil
	})
	if err != nil {
		d.release(p.TaskID, exe)
		return err
	}
	return nil
}

// Cancel interrupts the running loop of taskID, if any.
func (d *PoolDispatcher) Cancel(taskID string) bool {
	d.mu.Lock()
	exe, ok := d.running[taskID]
	d.mu.Unlock()
	if !ok {
		return false
	}
	exe.cancel()
	return true
}

// Running returns the number of loops submitted and not yet finished.
func (d *PoolDispatcher) Running() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.running)
}

// Stats exposes the pool statistics.
func (d *PoolDispatcher) Stats() pool.GoroutinePoolStats {
	return d.pool.Stats()
}

// Close cancels every loop and waits for the pool to drain.
func (d *PoolDispatcher) Close() {
	d.cancel()
	d.pool.Close()
}

func (d *PoolDispatcher) release(taskID string, exe *execution) {
	d.mu.Lock()
	if d.running[taskID] == exe {
		delete(d.running, taskID)
	}
	d.mu.Unlock()
	exe.cancel()
}

var _ Dispatcher = (*PoolDispatcher)(nil)
