package recovery

import (
	"context"
	"fmt"

	"github.com/BaSui01/webpilot/agent/action"
	"github.com/BaSui01/webpilot/agent/browser"
	"github.com/BaSui01/webpilot/agent/decision"
	"github.com/BaSui01/webpilot/agent/memory"
	"go.uber.org/zap"
)

// State 恢复状态机的阶段，用于日志与指标
type State string

const (
	StateDetected State = "detected"
	StateLookup   State = "lookup"
	StateReuse    State = "reuse"
	StateConsult  State = "consult"
	StateApply    State = "apply"
	StateContinue State = "continue"
	StateHalt     State = "halt"
)

// Verdict tells the loop whether to keep going.
type Verdict string

const (
	Continue Verdict = "continue"
	Halt     Verdict = "halt"
)

// Source tells where the strategy came from.
type Source string

const (
	SourceReuse   Source = "reuse"
	SourceConsult Source = "consult"
)

// DefaultThreshold is the cosine distance below which a past strategy is
// reused without consulting the model.
const DefaultThreshold float32 = 0.2

// Memory is the slice of the failure base the classifier needs.
type Memory interface {
	SearchFailures(ctx context.Context, fc memory.FailureContext, k int, onlySuccessful bool) ([]memory.FailureMatch, error)
	AddFailure(ctx context.Context, fc memory.FailureContext, strategy string, successful bool) (string, error)
}

// Observer receives one call per handled incident.
type Observer interface {
	ObserveRecovery(strategy string, source Source, verdict Verdict)
}

type nopObserver struct{}

func (nopObserver) ObserveRecovery(string, Source, Verdict) {}

// Incident is a failed execution or verification.
type Incident struct {
	Goal         string
	Perception   browser.Perception
	FailedAction action.Action
	Err          error
}

// Outcome is the classifier's decision.
type Outcome struct {
	Verdict   Verdict
	Strategy  decision.Strategy
	ErrorType string
	Source    Source
	Reason    string
	// FailedActionContext is set on Halt only.
	FailedActionContext map[string]any
}

// Classifier runs Detected → Lookup → {Reuse, Consult} → Apply.
type Classifier struct {
	memory    Memory
	consult   decision.Classifier
	threshold float32
	observer  Observer
	logger    *zap.Logger
}

// Option customizes a Classifier.
type Option func(*Classifier)

// WithThreshold overrides the reuse distance threshold.
func WithThreshold(t float32) Option {
	return func(c *Classifier) {
		if t > 0 {
			c.threshold = t
		}
	}
}

// WithObserver reports handled incidents.
func WithObserver(o Observer) Option {
	return func(c *Classifier) { c.observer = o }
}

// NewClassifier 创建恢复分类器
func NewClassifier(mem Memory, consult decision.Classifier, logger *zap.Logger, opts ...Option) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Classifier{
		memory:    mem,
		consult:   consult,
		threshold: DefaultThreshold,
		observer:  nopObserver{},
		logger:    logger.With(zap.String("component", "recovery")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handle classifies inc and applies the chosen strategy to session.
func (c *Classifier) Handle(ctx context.Context, session browser.Session, inc Incident) Outcome {
	errText := "unknown error"
	if inc.Err != nil {
		errText = inc.Err.Error()
	}
	fc := memory.FailureContext{
		Goal:             inc.Goal,
		URL:              inc.Perception.URL,
		FailedAction:     action.String(inc.FailedAction),
		ExceptionMessage: errText,
	}
	log := c.logger.With(zap.String("failed_action", fc.FailedAction), zap.String("url", fc.URL))
	log.Info("recovery", zap.String("state", string(StateDetected)), zap.String("error", errText))

	out := c.lookup(ctx, log, fc)
	if out.Source == "" {
		out = c.classify(ctx, log, fc, inc.Perception.Markup)
	}

	log.Info("recovery", zap.String("state", string(StateApply)),
		zap.String("strategy", string(out.Strategy)), zap.String("source", string(out.Source)))
	out = c.apply(ctx, session, out)

	if out.Verdict == Continue {
		if _, err := c.memory.AddFailure(ctx, fc, string(out.Strategy), true); err != nil {
			log.Warn("record recovered failure", zap.Error(err))
		}
	} else {
		out.FailedActionContext = failedActionContext(session, inc, fc, out)
	}

	state := StateContinue
	if out.Verdict == Halt {
		state = StateHalt
	}
	log.Info("recovery", zap.String("state", string(state)), zap.String("reason", out.Reason))
	c.observer.ObserveRecovery(string(out.Strategy), out.Source, out.Verdict)
	return out
}

// lookup returns an Outcome with Source set when a close enough neighbour
// exists, and a zero Outcome otherwise.
func (c *Classifier) lookup(ctx context.Context, log *zap.Logger, fc memory.FailureContext) Outcome {
	log.Debug("recovery", zap.String("state", string(StateLookup)))
	matches, err := c.memory.SearchFailures(ctx, fc, 1, true)
	if err != nil {
		log.Warn("failure base lookup failed", zap.Error(err))
		return Outcome{}
	}
	if len(matches) == 0 || matches[0].Distance >= c.threshold || matches[0].Strategy == "" {
		return Outcome{}
	}

	best := matches[0]
	log.Info("recovery", zap.String("state", string(StateReuse)),
		zap.String("record", best.ID), zap.Float32("distance", best.Distance))
	return Outcome{
		Strategy:  decision.Strategy(best.Strategy),
		ErrorType: "known",
		Source:    SourceReuse,
	}
}

func (c *Classifier) classify(ctx context.Context, log *zap.Logger, fc memory.FailureContext, markup string) Outcome {
	log.Info("recovery", zap.String("state", string(StateConsult)))
	verdict, err := c.consult.Classify(ctx, decision.ClassifyRequest{
		Goal:             fc.Goal,
		URL:              fc.URL,
		FailedAction:     fc.FailedAction,
		ExceptionMessage: fc.ExceptionMessage,
		Markup:           markup,
	})
	if err != nil {
		log.Warn("classifier failed", zap.Error(err))
	}
	return Outcome{
		Strategy:  verdict.Strategy,
		ErrorType: verdict.ErrorType,
		Source:    SourceConsult,
	}
}

func (c *Classifier) apply(ctx context.Context, session browser.Session, out Outcome) Outcome {
	var err error
	switch out.Strategy {
	case decision.StrategyRetry:
	case decision.StrategyRefresh:
		if session == nil {
			err = browser.ErrSessionUnavailable
		} else {
			err = session.Reload(ctx)
		}
	case decision.StrategyGoBack:
		if session == nil {
			err = browser.ErrSessionUnavailable
		} else {
			err = session.GoBack(ctx)
		}
	default:
		out.Verdict = Halt
		out.Reason = fmt.Sprintf("human intervention required (strategy %q, error type %q)", out.Strategy, out.ErrorType)
		return out
	}

	if err != nil {
		out.Verdict = Halt
		out.Reason = fmt.Sprintf("recovery strategy %s failed: %v", out.Strategy, err)
		return out
	}
	out.Verdict = Continue
	out.Reason = fmt.Sprintf("recovered with %s (%s)", out.Strategy, out.Source)
	return out
}

func failedActionContext(session browser.Session, inc Incident, fc memory.FailureContext, out Outcome) map[string]any {
	endpoint := ""
	if session != nil {
		endpoint = session.Endpoint()
	}
	return map[string]any{
		"action":               action.ToMap(inc.FailedAction),
		"browser_endpoint_url": endpoint,
		"url":                  fc.URL,
		"error":                fc.ExceptionMessage,
		"error_type":           out.ErrorType,
		"strategy":             string(out.Strategy),
	}
}
