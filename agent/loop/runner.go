package loop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/webpilot/agent/action"
	"github.com/BaSui01/webpilot/agent/browser"
	"github.com/BaSui01/webpilot/agent/decision"
	"github.com/BaSui01/webpilot/agent/recovery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/BaSui01/webpilot/agent/loop"

// Runner drives one task: perceive, decide, act, verify, recover.
type Runner struct {
	connector browser.Connector
	decider   decision.Decider
	recoverer Recoverer
	reporter  Reporter
	verifier  Verifier
	scenarios ScenarioMemory
	metrics   Metrics
	cfg       Config
	tracer    trace.Tracer
	logger    *zap.Logger
}

// Option customizes a Runner.
type Option func(*Runner)

// WithVerifier replaces the lexical verifier.
func WithVerifier(v Verifier) Option {
	return func(r *Runner) { r.verifier = v }
}

// WithScenarioMemory enables scenario hints and records successful runs.
func WithScenarioMemory(m ScenarioMemory) Option {
	return func(r *Runner) { r.scenarios = m }
}

// WithMetrics reports actions and finished runs.
func WithMetrics(m Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithConfig overrides DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(r *Runner) { r.cfg = cfg }
}

// NewRunner 创建循环执行器
func NewRunner(connector browser.Connector, decider decision.Decider, recoverer Recoverer, reporter Reporter, logger *zap.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		connector: connector,
		decider:   decider,
		recoverer: recoverer,
		reporter:  reporter,
		verifier:  NewLexicalVerifier(),
		metrics:   nopMetrics{},
		cfg:       DefaultConfig(),
		tracer:    otel.Tracer(instrumentationName),
		logger:    logger.With(zap.String("component", "loop")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute reports the task running, attaches to its browser and runs the
// loop until a terminal outcome. The session is closed on return; a
// remote browser keeps running so an operator can take over.
func (r *Runner) Execute(ctx context.Context, p Payload) Result {
	ctx, span := r.tracer.Start(ctx, "loop.execute", trace.WithAttributes(
		attribute.String("task.id", p.TaskID),
		attribute.Int("task.endpoints", len(p.InitialBrowserEndpoints)),
	))
	defer span.End()

	start := time.Now()
	res := r.execute(ctx, p)

	span.SetAttributes(
		attribute.String("loop.termination", string(res.Termination)),
		attribute.Int("loop.iterations", res.Iterations),
	)
	if res.Termination == Failed || res.Termination == Aborted {
		span.SetStatus(codes.Error, res.Reason)
	}
	r.metrics.LoopFinished(string(res.Termination), res.Iterations, time.Since(start))
	return res
}

func (r *Runner) execute(ctx context.Context, p Payload) Result {
	log := r.logger.With(zap.String("task_id", p.TaskID))

	if err := r.reporter.Running(ctx, p.TaskID); err != nil {
		log.Info("task not runnable, skipping", zap.Error(err))
		return Result{Termination: Aborted, Reason: err.Error()}
	}

	session, err := r.connector.Connect(ctx, p.Endpoint())
	if err != nil {
		return r.fail(ctx, log, p.TaskID, 0, "browser connection failed: "+err.Error())
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			log.Warn("session close failed", zap.Error(cerr))
		}
	}()

	return r.Run(ctx, p, session)
}

// Run executes the loop over an attached session. The caller has already
// reported the task as running.
func (r *Runner) Run(ctx context.Context, p Payload, session browser.Session) Result {
	log := r.logger.With(zap.String("task_id", p.TaskID))
	span := trace.SpanFromContext(ctx)

	hint := r.hint(ctx, log, p.Goal)
	var (
		history     []action.Action
		steps       []string
		consecutive int
	)

	for iter := 1; ; iter++ {
		if r.stopRequested(ctx, p.TaskID) {
			log.Info("stop observed", zap.Int("iteration", iter))
			return Result{Termination: Stopped, Iterations: iter - 1}
		}
		if err := ctx.Err(); err != nil {
			return r.fail(ctx, log, p.TaskID, iter-1, "interrupted: "+err.Error())
		}

		perception, err := session.Perceive(ctx)
		if err != nil {
			return r.fail(ctx, log, p.TaskID, iter, "browser session unusable: "+err.Error())
		}

		act := r.decider.Decide(ctx, decision.Request{
			Goal:       p.Goal,
			History:    history,
			Perception: perception,
			Hint:       hint,
		})
		history = append(history, act)
		span.AddEvent("action", trace.WithAttributes(
			attribute.Int("iteration", iter),
			attribute.String("kind", string(act.Kind())),
		))
		log.Debug("action decided", zap.Int("iteration", iter), zap.String("action", action.String(act)))

		switch a := act.(type) {
		case action.Finish:
			return r.complete(ctx, log, p, iter, a.Result, steps)
		case action.Think:
			continue
		}

		after, actErr := r.act(ctx, session, perception, act)
		r.metrics.ActionExecuted(string(act.Kind()), actErr == nil)
		if actErr == nil {
			consecutive = 0
			steps = append(steps, action.String(act))
			continue
		}

		log.Info("action failed", zap.String("action", action.String(act)), zap.Error(actErr))
		out := r.recoverer.Handle(ctx, session, recovery.Incident{
			Goal:         p.Goal,
			Perception:   after,
			FailedAction: act,
			Err:          actErr,
		})
		if out.Verdict == recovery.Halt {
			return r.intervene(ctx, log, p.TaskID, iter, out)
		}

		consecutive++
		if limit := r.cfg.MaxConsecutiveRetries; limit > 0 && consecutive > limit {
			reason := fmt.Sprintf("%v: %d consecutive failed actions, last: %v", ErrRetryBudgetExhausted, consecutive, actErr)
			return r.fail(ctx, log, p.TaskID, iter, reason)
		}
	}
}

// act executes a and verifies the resulting page. It returns the perception
// to attach to an incident, which is the pre-action page when the
// post-action page cannot be read.
func (r *Runner) act(ctx context.Context, session browser.Session, before browser.Perception, a action.Action) (browser.Perception, error) {
	execErr := dispatch(ctx, session, a)

	after, perr := session.Perceive(ctx)
	if perr != nil {
		after = before
		if execErr == nil {
			execErr = perr
		}
	}
	if execErr != nil {
		return after, execErr
	}

	if anomaly := r.verifier.Verify(ctx, after, a); anomaly != nil {
		return after, anomaly
	}
	return after, nil
}

func dispatch(ctx context.Context, session browser.Session, a action.Action) error {
	switch a := a.(type) {
	case action.Browse:
		return session.Navigate(ctx, a.URL)
	case action.Click:
		return session.Click(ctx, a.ElementID)
	case action.Type:
		return session.Type(ctx, a.ElementID, a.Text)
	}
	return fmt.Errorf("%w: %s is not executable", action.ErrUnknownKind, a.Kind())
}

func (r *Runner) hint(ctx context.Context, log *zap.Logger, goal string) string {
	if r.scenarios == nil {
		return ""
	}
	matches, err := r.scenarios.SearchScenarios(ctx, goal, 1)
	if err != nil {
		log.Warn("scenario lookup failed", zap.Error(err))
		return ""
	}
	if len(matches) == 0 || matches[0].Distance > r.cfg.HintMaxDistance {
		return ""
	}
	m := matches[0]
	log.Debug("scenario hint found", zap.String("goal", m.Goal), zap.Float32("distance", m.Distance))
	return fmt.Sprintf("goal: %s\n%s", m.Goal, strings.Join(m.Steps, "\n"))
}

func (r *Runner) stopRequested(ctx context.Context, taskID string) bool {
	return r.reporter.ShouldStop(context.WithoutCancel(ctx), taskID)
}

func (r *Runner) complete(ctx context.Context, log *zap.Logger, p Payload, iter int, result string, steps []string) Result {
	if err := r.reporter.Completed(context.WithoutCancel(ctx), p.TaskID, result); err != nil {
		log.Info("completion refused", zap.Error(err))
		return Result{Termination: Aborted, Reason: err.Error(), Iterations: iter}
	}
	log.Info("task completed", zap.Int("iterations", iter))

	if r.scenarios != nil && len(steps) > 0 {
		if _, err := r.scenarios.AddScenario(ctx, p.Goal, steps); err != nil {
			log.Warn("scenario not recorded", zap.Error(err))
		}
	}
	return Result{Termination: Completed, Result: result, Iterations: iter}
}

func (r *Runner) fail(ctx context.Context, log *zap.Logger, taskID string, iter int, reason string) Result {
	if err := r.reporter.Failed(context.WithoutCancel(ctx), taskID, reason); err != nil {
		log.Info("failure report refused", zap.String("reason", reason), zap.Error(err))
		return Result{Termination: refusal(err), Reason: reason, Iterations: iter}
	}
	log.Warn("task failed", zap.String("reason", reason))
	return Result{Termination: Failed, Reason: reason, Iterations: iter}
}

func (r *Runner) intervene(ctx context.Context, log *zap.Logger, taskID string, iter int, out recovery.Outcome) Result {
	if err := r.reporter.NeedsIntervention(context.WithoutCancel(ctx), taskID, out.Reason, out.FailedActionContext); err != nil {
		log.Info("intervention report refused", zap.Error(err))
		return Result{Termination: refusal(err), Reason: out.Reason, Iterations: iter}
	}
	log.Info("human intervention required", zap.String("reason", out.Reason))
	return Result{Termination: Intervention, Reason: out.Reason, Iterations: iter}
}

// ErrStopped may be returned by a Reporter to say the task was stopped.
var ErrStopped = errors.New("task stopped")

func refusal(err error) Termination {
	if errors.Is(err, ErrStopped) {
		return Stopped
	}
	return Aborted
}
