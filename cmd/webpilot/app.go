package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/webpilot/agent/browser"
	"github.com/BaSui01/webpilot/agent/decision"
	"github.com/BaSui01/webpilot/agent/lifecycle"
	"github.com/BaSui01/webpilot/agent/loop"
	"github.com/BaSui01/webpilot/agent/memory"
	"github.com/BaSui01/webpilot/agent/persistence"
	"github.com/BaSui01/webpilot/agent/recovery"
	"github.com/BaSui01/webpilot/config"
	"github.com/BaSui01/webpilot/internal/database"
	"github.com/BaSui01/webpilot/internal/metrics"
	"github.com/BaSui01/webpilot/llm/embedding"
	"github.com/BaSui01/webpilot/llm/inference"
	"github.com/BaSui01/webpilot/llm/tokenizer"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// 🧩 组件装配
// =============================================================================

// app 持有一个进程内的全部组件。serve、worker、run 共用同一套装配。
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	collector *metrics.Collector

	redis redis.UniversalClient
	db    *database.PoolManager
	store persistence.TaskStore

	experience  *memory.Experience
	broadcaster *lifecycle.Broadcaster
	manager     *lifecycle.Manager

	// local 为 nil 表示本进程不执行循环（redis 调度下的 API 进程）
	local *lifecycle.PoolDispatcher
	// remote 在 dispatch.mode=redis 时设置
	remote *lifecycle.RedisDispatcher

	closers []func() error
}

// appOptions 控制装配哪些部分
type appOptions struct {
	// executeLocally 在本进程创建执行循环的 goroutine 池
	executeLocally bool
	// forceLocalDispatch 忽略 dispatch.mode，直接把循环交给本地池（run 命令）
	forceLocalDispatch bool
}

func newApp(ctx context.Context, cfg *config.Config, collector *metrics.Collector, logger *zap.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, logger: logger, collector: collector}
	if err := a.build(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context, opts appOptions) error {
	cfg, logger, collector := a.cfg, a.logger, a.collector

	if err := a.openBackends(ctx); err != nil {
		return err
	}

	store, err := persistence.NewTaskStore(ctx, cfg.TaskStoreConfig(), persistence.Backends{Redis: a.redis, DB: a.db}, logger)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	a.broadcaster = lifecycle.NewBroadcaster(0)
	a.closers = append(a.closers, func() error { a.broadcaster.Close(); return nil })
	a.manager = lifecycle.NewManager(a.store, logger,
		lifecycle.WithBroadcaster(a.broadcaster),
		lifecycle.WithMetrics(collector),
	)

	if opts.executeLocally || opts.forceLocalDispatch {
		runner, err := a.buildRunner()
		if err != nil {
			return err
		}
		a.local = lifecycle.NewPoolDispatcher(cfg.DispatchPoolConfig(), lifecycle.TracedExecutor(runner), logger)
		a.closers = append(a.closers, func() error { a.local.Close(); return nil })
	}

	switch {
	case opts.forceLocalDispatch || cfg.Dispatch.Mode == config.DispatchLocal:
		if a.local == nil {
			return errors.New("local dispatch requires a local executor")
		}
		a.manager.SetDispatcher(a.local)
	case cfg.Dispatch.Mode == config.DispatchRedis:
		a.remote = lifecycle.NewRedisDispatcher(a.redis, cfg.Redis.KeyPrefix, logger)
		a.manager.SetDispatcher(a.remote)
	default:
		return fmt.Errorf("unknown dispatch mode %q", cfg.Dispatch.Mode)
	}

	return nil
}

// openBackends 按需连接 Redis 与 SQL 数据库
func (a *app) openBackends(ctx context.Context) error {
	if a.cfg.NeedsRedis() {
		client := redis.NewClient(a.cfg.RedisOptions())
		a.closers = append(a.closers, client.Close)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("connect redis %s: %w", a.cfg.Redis.Addr, err)
		}
		a.redis = client
		a.logger.Info("redis connected", zap.String("addr", a.cfg.Redis.Addr))
	}

	if a.cfg.Store.Type == persistence.StoreTypeSQL {
		pm, err := database.Open(a.cfg.SQLConfig(), a.logger)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		a.closers = append(a.closers, pm.Close)
		a.db = pm
		a.logger.Info("database connected", zap.String("driver", a.cfg.Store.Database.Driver))
	}
	return nil
}

// buildRunner 装配控制循环：浏览器、推理、经验记忆、恢复
func (a *app) buildRunner() (*loop.Runner, error) {
	cfg := a.cfg

	exp, err := a.openExperience()
	if err != nil {
		return nil, err
	}

	completer, err := inference.New(cfg.Inference, a.logger)
	if err != nil {
		return nil, fmt.Errorf("create inference client: %w", err)
	}
	adapter := decision.NewAdapter(completer, cfg.DecisionConfig(), a.logger,
		decision.WithTokenizer(tokenizer.NewTiktoken("", a.logger)),
		decision.WithObserver(a.collector),
	)

	classifier := recovery.NewClassifier(exp, adapter, a.logger,
		recovery.WithThreshold(cfg.Memory.ReuseThreshold),
		recovery.WithObserver(a.collector),
	)

	return loop.NewRunner(browser.NewRodConnector(cfg.Browser, a.logger), adapter, classifier, a.manager, a.logger,
		loop.WithConfig(cfg.LoopRunnerConfig()),
		loop.WithVerifier(loop.NewLexicalVerifier(cfg.Loop.ErrorMarkers...)),
		loop.WithScenarioMemory(exp),
		loop.WithMetrics(a.collector),
	), nil
}

// openExperience 打开经验记忆，嵌入结果经 LRU 缓存
func (a *app) openExperience() (*memory.Experience, error) {
	if a.experience != nil {
		return a.experience, nil
	}
	provider, err := embedding.NewOpenAIProvider(a.cfg.Embedding, a.logger)
	if err != nil {
		return nil, fmt.Errorf("create embedding provider: %w", err)
	}
	cacheSize := a.cfg.Memory.CacheSize
	if cacheSize <= 0 {
		cacheSize = a.cfg.Embedding.CacheSize
	}
	cached, err := embedding.NewCachedProvider(provider, cacheSize)
	if err != nil {
		return nil, err
	}
	cached.SetObserver(a.collector)

	exp, err := memory.NewExperience(a.cfg.Memory, cached, a.logger)
	if err != nil {
		return nil, fmt.Errorf("open experience memory: %w", err)
	}
	a.experience = exp
	return exp, nil
}

// dispatchInfo 汇报调度状态：本地池的运行数与累计数，或 redis 队列积压
func (a *app) dispatchInfo(ctx context.Context) (any, error) {
	info := map[string]any{"mode": a.cfg.Dispatch.Mode}
	if a.local != nil {
		stats := a.local.Stats()
		info["running"] = a.local.Running()
		info["completed"] = stats.Completed
	}
	if a.remote != nil {
		n, err := a.remote.QueueLength(ctx)
		if err != nil {
			return nil, err
		}
		info["queued"] = n
	}
	return info, nil
}

// poolReportInterval 数据库连接池指标上报间隔
const poolReportInterval = 15 * time.Second

// reportPools 周期性上报数据库连接池，直到 ctx 结束
func (a *app) reportPools(ctx context.Context, interval time.Duration) {
	if a.db == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.collector.RecordDBPool(a.cfg.Store.Database.Driver, a.db)
		}
	}
}

// Close 逆序释放资源
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
