// Package pool 提供有界的 goroutine 池，控制循环在其上逐个占用 worker 执行。
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool is full")
)

// Task 池内执行的一个工作单元
type Task func(ctx context.Context) error

// GoroutinePoolConfig 池配置。容量 = MaxWorkers 个执行槽 + QueueSize 个等待槽。
type GoroutinePoolConfig struct {
	MaxWorkers   int           `yaml:"max_workers" env:"MAX_WORKERS"`
	QueueSize    int           `yaml:"queue_size" env:"QUEUE_SIZE"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	PanicHandler func(any)     `yaml:"-" env:"-"`
}

// DefaultGoroutinePoolConfig 默认配置
func DefaultGoroutinePoolConfig() GoroutinePoolConfig {
	return GoroutinePoolConfig{
		MaxWorkers:  8,
		QueueSize:   256,
		IdleTimeout: time.Minute,
	}
}

func (c GoroutinePoolConfig) normalized() GoroutinePoolConfig {
	def := DefaultGoroutinePoolConfig()
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = def.MaxWorkers
	}
	if c.QueueSize < 0 {
		c.QueueSize = 0
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	return c
}

type job struct {
	ctx context.Context
	run Task
}

type counters struct {
	submitted, completed, failed, panicked, rejected atomic.Int64
}

// =============================================================================
// 🧵 GoroutinePool
// =============================================================================

// GoroutinePool 按需启动 worker，空闲超过 IdleTimeout 的多余 worker 自动退出。
// Submit 从不阻塞：执行槽与等待槽都占满时直接返回 ErrPoolFull。
type GoroutinePool struct {
	cfg      GoroutinePoolConfig
	capacity int64
	jobs     chan job

	// admitted 已接收但尚未结束的任务数，不超过 capacity
	admitted atomic.Int64
	workers  atomic.Int32
	active   atomic.Int32
	stats    counters

	// closeMu 读锁保护向 jobs 发送，写锁保护关闭 jobs
	closeMu sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
}

// NewGoroutinePool 创建池；worker 在第一次提交时才启动
func NewGoroutinePool(cfg GoroutinePoolConfig) *GoroutinePool {
	cfg = cfg.normalized()
	capacity := cfg.MaxWorkers + cfg.QueueSize
	return &GoroutinePool{
		cfg:      cfg,
		capacity: int64(capacity),
		jobs:     make(chan job, capacity),
	}
}

// Submit 接收任务。ctx 原样传给任务，不约束提交本身。
func (p *GoroutinePool) Submit(ctx context.Context, task Task) error {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	if n := p.admitted.Add(1); n > p.capacity {
		p.admitted.Add(-1)
		p.stats.rejected.Add(1)
		return ErrPoolFull
	}
	p.stats.submitted.Add(1)

	// jobs 容量等于 capacity，这里不会阻塞
	p.jobs <- job{ctx: ctx, run: task}
	p.scaleUp()
	return nil
}

// scaleUp 保证 worker 数不少于 min(MaxWorkers, admitted)
func (p *GoroutinePool) scaleUp() {
	for {
		n := p.workers.Load()
		if int(n) >= p.cfg.MaxWorkers || int64(n) >= p.admitted.Load() {
			return
		}
		if p.workers.CompareAndSwap(n, n+1) {
			p.wg.Add(1)
			go p.work()
			return
		}
	}
}

func (p *GoroutinePool) work() {
	defer p.wg.Done()

	idle := time.NewTimer(p.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case j, ok := <-p.jobs:
			if !ok {
				p.workers.Add(-1)
				return
			}
			p.execute(j)
			p.admitted.Add(-1)
			idle.Reset(p.cfg.IdleTimeout)

		case <-idle.C:
			// 至少保留一个 worker
			if n := p.workers.Load(); n > 1 && p.workers.CompareAndSwap(n, n-1) {
				return
			}
			idle.Reset(p.cfg.IdleTimeout)
		}
	}
}

func (p *GoroutinePool) execute(j job) {
	p.active.Add(1)
	defer p.active.Add(-1)

	if err := p.call(j); err != nil {
		p.stats.failed.Add(1)
		return
	}
	p.stats.completed.Add(1)
}

func (p *GoroutinePool) call(j job) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		p.stats.panicked.Add(1)
		if p.cfg.PanicHandler != nil {
			p.cfg.PanicHandler(r)
		}
		err = fmt.Errorf("task panicked: %v", r)
	}()
	return j.run(j.ctx)
}

// Close 拒绝新任务，执行完已排队的任务后返回。可重复调用。
func (p *GoroutinePool) Close() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.closeMu.Unlock()

	p.wg.Wait()
}

// GoroutinePoolStats 池的运行快照
type GoroutinePoolStats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panicked  int64 `json:"panicked"`
	Rejected  int64 `json:"rejected"`
}

// Stats 返回当前快照
func (p *GoroutinePool) Stats() GoroutinePoolStats {
	return GoroutinePoolStats{
		Workers:   int(p.workers.Load()),
		Active:    int(p.active.Load()),
		Queued:    len(p.jobs),
		Submitted: p.stats.submitted.Load(),
		Completed: p.stats.completed.Load(),
		Failed:    p.stats.failed.Load(),
		Panicked:  p.stats.panicked.Load(),
		Rejected:  p.stats.rejected.Load(),
	}
}
