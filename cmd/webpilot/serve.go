package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BaSui01/webpilot/api/handlers"
	"github.com/BaSui01/webpilot/config"
	"github.com/BaSui01/webpilot/internal/metrics"
	"github.com/BaSui01/webpilot/internal/server"
	"github.com/BaSui01/webpilot/internal/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the HTTP API server.

With dispatch.mode=local the control loops run inside this process.
With dispatch.mode=redis loops are queued for 'webpilot worker' processes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
}

func runServe(ctx context.Context, flags *globalFlags) error {
	loader, cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	logger, level := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting WebPilot",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("dispatch_mode", cfg.Dispatch.Mode),
		zap.String("store", string(cfg.Store.Type)),
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.Init(ctx, cfg.Telemetry, telemetry.Process{Role: "serve", Version: Version}, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer providers.Close(telemetryShutdownTimeout, logger)

	collector := metrics.NewCollector("webpilot", logger)

	a, err := newApp(ctx, cfg, collector, logger, appOptions{executeLocally: cfg.Dispatch.Mode == config.DispatchLocal})
	if err != nil {
		return err
	}
	defer a.Close()

	health := handlers.NewHealthHandler(logger)
	registerHealthChecks(health, a)

	limiter := NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, publicPaths, logger)

	handler := newHTTPHandler(httpDeps{
		cfg:       cfg,
		tasks:     a.manager,
		events:    a.broadcaster,
		health:    health,
		collector: collector,
		limiter:   limiter,
		logger:    logger,
	})

	g, gctx := errgroup.WithContext(ctx)

	httpServer := server.NewManager(handler, cfg.ServerManagerConfig(), logger)
	g.Go(func() error { return httpServer.Run(gctx) })

	if metricsCfg, ok := cfg.MetricsServerConfig(); ok {
		metricsServer := server.NewMetricsManager(metricsCfg, logger)
		g.Go(func() error { return metricsServer.Run(gctx) })
	}

	g.Go(func() error {
		a.reportPools(gctx, poolReportInterval)
		return nil
	})

	if flags.configPath != "" {
		watcher, err := watchConfig(gctx, loader, cfg, logger, level, limiter)
		if err != nil {
			logger.Warn("config hot reload disabled", zap.Error(err))
		} else {
			defer func() { _ = watcher.Stop() }()
		}
	}

	logger.Info("All servers started",
		zap.Int("http_port", cfg.Server.HTTPPort),
		zap.Int("metrics_port", cfg.Server.MetricsPort),
	)

	err = g.Wait()
	logger.Info("WebPilot stopped")
	return err
}

// httpDeps 构建 API 路由所需的依赖
type httpDeps struct {
	cfg       *config.Config
	tasks     handlers.TaskService
	events    handlers.EventSource
	health    *handlers.HealthHandler
	collector *metrics.Collector
	limiter   *RateLimiter
	logger    *zap.Logger
}

// newHTTPHandler 注册路由并构建中间件链
func newHTTPHandler(d httpDeps) http.Handler {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查端点
	// ========================================
	mux.HandleFunc("GET /health", d.health.HandleHealth)
	mux.HandleFunc("GET /healthz", d.health.HandleHealthz)
	mux.HandleFunc("GET /ready", d.health.HandleReady)
	mux.HandleFunc("GET /readyz", d.health.HandleReady)
	mux.HandleFunc("GET /version", d.health.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// 任务 API
	// ========================================
	opts := []handlers.TaskHandlerOption{handlers.WithOriginPatterns(originPatterns(d.cfg.Server.CORSAllowedOrigins))}
	if d.events != nil {
		opts = append(opts, handlers.WithEventSource(d.events))
	}
	handlers.NewTaskHandler(d.tasks, d.logger, opts...).Register(mux)

	// ========================================
	// 构建中间件链
	// ========================================
	chain := []Middleware{
		Recovery(d.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		RequestLogger(d.logger),
	}
	if d.collector != nil {
		chain = append(chain, MetricsMiddleware(d.collector))
	}
	chain = append(chain,
		CORS(d.cfg.Server.CORSAllowedOrigins),
		Auth(AuthConfig{
			APIKeys:          d.cfg.Server.APIKeys,
			AllowQueryAPIKey: d.cfg.Server.AllowQueryAPIKey,
			JWTSecret:        d.cfg.Server.JWTSecret,
			JWTIssuer:        d.cfg.Server.JWTIssuer,
			SkipPaths:        publicPaths,
		}, d.logger),
	)
	if d.limiter != nil {
		chain = append(chain, d.limiter.Middleware())
	}
	return Chain(mux, chain...)
}

// originPatterns 把 CORS 来源转换为 websocket 的 host 模式
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if i := strings.Index(o, "://"); i >= 0 {
			o = o[i+3:]
		}
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}

// registerHealthChecks 注册就绪检查
func registerHealthChecks(h *handlers.HealthHandler, a *app) {
	h.RegisterCheck(handlers.NewPingCheck("task_store", a.store.Ping))
	if a.redis != nil {
		h.RegisterCheck(handlers.NewPingCheck("redis", func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		}))
	}
	if a.db != nil {
		h.RegisterCheck(handlers.NewPingCheck("database", a.db.Ping))
	}

	h.RegisterInfo("dispatch", a.dispatchInfo)
	if a.experience != nil {
		exp := a.experience
		h.RegisterInfo("experience", func(context.Context) (any, error) { return exp.Counts(), nil })
	}
}

// watchConfig 监听配置文件；日志级别与限流即时生效，其余字段需要重启
func watchConfig(ctx context.Context, loader *config.Loader, cfg *config.Config, logger *zap.Logger, level zap.AtomicLevel, limiter *RateLimiter) (*config.FileWatcher, error) {
	reloader := config.NewReloader(loader, cfg, logger)
	reloader.OnReload(func(old, updated *config.Config) {
		if updated.Log.Level != old.Log.Level {
			level.SetLevel(parseLevel(updated.Log.Level))
			logger.Info("log level changed", zap.String("level", updated.Log.Level))
		}
		if updated.Server.RateLimitRPS != old.Server.RateLimitRPS || updated.Server.RateLimitBurst != old.Server.RateLimitBurst {
			limiter.SetLimits(updated.Server.RateLimitRPS, updated.Server.RateLimitBurst)
			logger.Info("rate limit changed",
				zap.Float64("rps", updated.Server.RateLimitRPS),
				zap.Int("burst", updated.Server.RateLimitBurst))
		}
		if updated.Server.HTTPPort != old.Server.HTTPPort ||
			updated.Store.Type != old.Store.Type ||
			updated.Dispatch.Mode != old.Dispatch.Mode {
			logger.Warn("restart required to apply server/store/dispatch changes")
		}
	})
	return reloader.Watch(ctx)
}

// telemetryShutdownTimeout 退出时刷出 span 与指标的上限
const telemetryShutdownTimeout = 5 * time.Second
