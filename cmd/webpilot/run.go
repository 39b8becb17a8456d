package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BaSui01/webpilot/agent/lifecycle"
	"github.com/BaSui01/webpilot/agent/persistence"
	"github.com/BaSui01/webpilot/internal/metrics"
	"github.com/BaSui01/webpilot/internal/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// =============================================================================
// ▶️ run 命令
// =============================================================================

type runFlags struct {
	endpoints []string
	timeout   time.Duration
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	rf := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "Run a single goal in this process and print the final task",
		Long: `Run a single goal in this process and print the final task as JSON.

Exit status: 0 completed, 2 waiting for an operator, 1 otherwise.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), flags, rf, strings.Join(args, " "), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringSliceVarP(&rf.endpoints, "endpoint", "e", nil, "Remote browser endpoint (repeatable); launches a local browser when empty")
	cmd.Flags().DurationVar(&rf.timeout, "timeout", 0, "Stop the task after this long (0 waits indefinitely)")
	return cmd
}

func runOnce(ctx context.Context, flags *globalFlags, rf *runFlags, goal string, out io.Writer) error {
	_, cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	// 标准输出只留给结果
	cfg.Log.OutputPaths = []string{"stderr"}
	logger, _ := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if rf.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rf.timeout)
		defer cancel()
	}

	providers, err := telemetry.Init(ctx, cfg.Telemetry, telemetry.Process{Role: "run", Version: Version}, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer providers.Close(telemetryShutdownTimeout, logger)

	a, err := newApp(ctx, cfg, metrics.NewCollector("webpilot", logger), logger, appOptions{forceLocalDispatch: true})
	if err != nil {
		return err
	}
	defer a.Close()

	task, err := a.manager.Submit(ctx, goal, rf.endpoints)
	if err != nil {
		return err
	}
	logger.Info("task submitted", zap.String("task_id", task.ID))

	final, waitErr := waitSettled(ctx, a.manager, a.broadcaster, task.ID, time.Second)
	if waitErr != nil {
		// 中断或超时：停止任务后输出最终状态
		final, err = a.manager.Stop(context.WithoutCancel(ctx), task.ID)
		if err != nil {
			return err
		}
	}

	if err := writeTask(out, final); err != nil {
		return err
	}
	return taskExitError(final)
}

// settled 报告循环是否已结束：终态或等待人工介入
func settled(t *persistence.Task) bool {
	return t.Status.IsTerminal() || t.Status == persistence.StatusHumanIntervention
}

// waitSettled 等待任务结束。状态变更来自广播，轮询兜底。
func waitSettled(ctx context.Context, tasks taskGetter, events *lifecycle.Broadcaster, id string, poll time.Duration) (*persistence.Task, error) {
	updates, cancel := events.Subscribe(id)
	defer cancel()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		task, err := tasks.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if settled(task) {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case _, ok := <-updates:
			if !ok {
				updates = nil
			}
		case <-ticker.C:
		}
	}
}

// taskGetter 是 waitSettled 需要的查询接口
type taskGetter interface {
	Get(ctx context.Context, id string) (*persistence.Task, error)
}

func writeTask(w io.Writer, t *persistence.Task) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(t)
}

func taskExitError(t *persistence.Task) error {
	switch t.Status {
	case persistence.StatusCompleted:
		return nil
	case persistence.StatusHumanIntervention:
		return &exitError{code: 2, err: fmt.Errorf("task %s needs an operator: %s", t.ID, t.StatusReason)}
	default:
		return &exitError{code: 1, err: fmt.Errorf("task %s ended %s: %s", t.ID, t.Status, t.StatusReason)}
	}
}
