package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/BaSui01/webpilot/agent/lifecycle"
	"github.com/BaSui01/webpilot/config"
	"github.com/BaSui01/webpilot/internal/metrics"
	"github.com/BaSui01/webpilot/internal/server"
	"github.com/BaSui01/webpilot/internal/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🛠️ worker 命令
// =============================================================================

func newWorkerCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume the redis dispatch queue and run control loops",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd.Context(), flags)
		},
	}
}

var errWorkerNeedsRedis = errors.New("worker requires dispatch.mode=redis")

func runWorker(ctx context.Context, flags *globalFlags) error {
	_, cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	if cfg.Dispatch.Mode != config.DispatchRedis {
		return errWorkerNeedsRedis
	}

	logger, _ := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.Init(ctx, cfg.Telemetry, telemetry.Process{Role: "worker", Version: Version}, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer providers.Close(telemetryShutdownTimeout, logger)

	collector := metrics.NewCollector("webpilot", logger)

	a, err := newApp(ctx, cfg, collector, logger, appOptions{executeLocally: true})
	if err != nil {
		return err
	}
	defer a.Close()

	worker := lifecycle.NewWorker(a.redis, a.local, cfg.WorkerConfig(), logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })

	if metricsCfg, ok := cfg.MetricsServerConfig(); ok {
		metricsServer := server.NewMetricsManager(metricsCfg, logger)
		g.Go(func() error { return metricsServer.Run(gctx) })
	}

	g.Go(func() error {
		a.reportPools(gctx, poolReportInterval)
		return nil
	})

	logger.Info("WebPilot worker started",
		zap.String("version", Version),
		zap.Int("workers", cfg.Dispatch.Workers),
	)
	return g.Wait()
}
