package lifecycle

import (
	"context"
	"time"

	"github.com/BaSui01/webpilot/agent/loop"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/BaSui01/webpilot/agent/lifecycle"

// TracedExecutor wraps exec so every loop run is one span and one
// observation of the loop metrics. Tracer and meter come from the global
// providers at call time; both are noops until telemetry is initialized.
func TracedExecutor(exec Executor) Executor {
	return tracedExecutor{inner: exec}
}

type tracedExecutor struct {
	inner Executor
}

func (t tracedExecutor) Execute(ctx context.Context, p loop.Payload) loop.Result {
	remote := p.Endpoint() != ""
	ctx, span := otel.Tracer(tracerName).Start(ctx, "loop.execute",
		trace.WithAttributes(
			attribute.String("task.id", p.TaskID),
			attribute.Bool("browser.remote", remote),
		),
	)
	defer span.End()

	start := time.Now()
	res := t.inner.Execute(ctx, p)

	span.SetAttributes(
		attribute.String("loop.termination", string(res.Termination)),
		attribute.Int("loop.iterations", res.Iterations),
	)
	if res.Termination == loop.Failed || res.Termination == loop.Aborted {
		span.SetStatus(codes.Error, res.Reason)
	}
	recordRun(ctx, res, remote, time.Since(start))
	return res
}

// recordRun 记录循环次数、迭代数与耗时，按终止方式分组
func recordRun(ctx context.Context, res loop.Result, remote bool, elapsed time.Duration) {
	meter := otel.Meter(tracerName)
	attrs := metric.WithAttributes(
		attribute.String("termination", string(res.Termination)),
		attribute.Bool("browser.remote", remote),
	)
	if runs, err := meter.Int64Counter("webpilot.loop.runs",
		metric.WithDescription("Completed loop executions")); err == nil {
		runs.Add(ctx, 1, attrs)
	}
	if iters, err := meter.Int64Histogram("webpilot.loop.iterations",
		metric.WithDescription("Iterations per loop execution")); err == nil {
		iters.Record(ctx, int64(res.Iterations), attrs)
	}
	if dur, err := meter.Float64Histogram("webpilot.loop.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Wall time per loop execution")); err == nil {
		dur.Record(ctx, elapsed.Seconds(), attrs)
	}
}
