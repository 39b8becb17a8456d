package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/BaSui01/webpilot/agent/action"
	"github.com/BaSui01/webpilot/llm/inference"
	"github.com/BaSui01/webpilot/llm/tokenizer"
	"go.uber.org/zap"
)

// minMarkupTokens 即使提示词很长也至少保留的页面 token 数
const minMarkupTokens = 256

// Config 决策适配器配置
type Config struct {
	HistoryWindow   int
	MaxPromptTokens int
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{HistoryWindow: 3, MaxPromptTokens: 6000}
}

// Adapter implements Decider and Classifier on top of a text Completer.
type Adapter struct {
	completer inference.Completer
	tokenizer tokenizer.Tokenizer
	cfg       Config
	observer  Observer
	logger    *zap.Logger
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithTokenizer sets the tokenizer used to fit markup into the prompt budget.
func WithTokenizer(t tokenizer.Tokenizer) Option {
	return func(a *Adapter) { a.tokenizer = t }
}

// WithObserver reports inference latency.
func WithObserver(o Observer) Option {
	return func(a *Adapter) { a.observer = o }
}

// NewAdapter creates a decision adapter.
func NewAdapter(completer inference.Completer, cfg Config, logger *zap.Logger, opts ...Option) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = def.HistoryWindow
	}
	if cfg.MaxPromptTokens <= 0 {
		cfg.MaxPromptTokens = def.MaxPromptTokens
	}
	a := &Adapter{
		completer: completer,
		tokenizer: tokenizer.NewEstimator(),
		cfg:       cfg,
		observer:  nopObserver{},
		logger:    logger.With(zap.String("component", "decision")),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// fit assembles head + markup + tail with markup cut to the remaining budget.
func (a *Adapter) fit(head, markup, tail string) string {
	budget := a.cfg.MaxPromptTokens - a.tokenizer.CountTokens(head) - a.tokenizer.CountTokens(tail)
	if budget < minMarkupTokens {
		budget = minMarkupTokens
	}
	return head + a.tokenizer.Truncate(markup, budget) + tail
}

func (a *Adapter) complete(ctx context.Context, op, prompt string) (string, error) {
	start := time.Now()
	text, err := a.completer.Complete(ctx, prompt)
	a.observer.ObserveInference(op, time.Since(start), err)
	return text, err
}

// Decide asks the model for the next action. Transport failures, unparseable
// output and foreign vocabulary all come back as Think.
func (a *Adapter) Decide(ctx context.Context, req Request) action.Action {
	head, tail := buildDecidePrompt(req, a.cfg.HistoryWindow)
	prompt := a.fit(head, req.Perception.Markup, tail)

	text, err := a.complete(ctx, "decide", prompt)
	if err != nil {
		a.logger.Warn("decision call failed", zap.Error(err))
		return action.Think{
			Text:      fmt.Sprintf("decision capability failed: %v", err),
			Reasoning: "no decision available",
		}
	}

	raw, err := extractJSON(text)
	if err != nil {
		a.logger.Warn("decision output not parseable",
			zap.Error(err), zap.String("output", truncateRunes(text, 200)))
		return action.Think{
			Text:      fmt.Sprintf("could not parse decision output: %s", truncateRunes(text, 200)),
			Reasoning: "unparseable output",
		}
	}

	act := action.Coerce(raw)
	a.logger.Debug("decided", zap.String("action", action.String(act)))
	return act
}

// Classify asks the model which recovery strategy fits a failure. Any
// failure yields human_intervention with error type unknown.
func (a *Adapter) Classify(ctx context.Context, req ClassifyRequest) (Classification, error) {
	head, tail := buildClassifyPrompt(req)
	prompt := a.fit(head, req.Markup, tail)

	text, err := a.complete(ctx, "classify", prompt)
	if err != nil {
		return haltClassification(fmt.Sprintf("classifier unavailable: %v", err)),
			fmt.Errorf("classify failure: %w", err)
	}

	raw, err := extractJSON(text)
	if err != nil {
		return haltClassification("classifier output not parseable"),
			fmt.Errorf("classify failure: %w", err)
	}

	var c Classification
	if err := json.Unmarshal(raw, &c); err != nil {
		return haltClassification("classifier output has wrong shape"),
			fmt.Errorf("classify failure: decode: %w", err)
	}
	return normalize(c), nil
}

func haltClassification(reason string) Classification {
	return Classification{ErrorType: "unknown", Strategy: StrategyHumanIntervention, Reasoning: reason}
}

func normalize(c Classification) Classification {
	c.ErrorType = strings.ToLower(strings.TrimSpace(c.ErrorType))
	if !slices.Contains(ErrorTypes, c.ErrorType) {
		c.ErrorType = "unknown"
	}
	c.Strategy = Strategy(strings.ToLower(strings.TrimSpace(string(c.Strategy))))
	if c.Strategy == "" {
		c.Strategy = StrategyHumanIntervention
	}
	return c
}

var (
	_ Decider    = (*Adapter)(nil)
	_ Classifier = (*Adapter)(nil)
)
