package loop

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/webpilot/agent/browser"
	"github.com/BaSui01/webpilot/agent/memory"
	"github.com/BaSui01/webpilot/agent/recovery"
)

// ErrRetryBudgetExhausted ends a task whose recoveries kept succeeding
// without any action getting through. It only applies when
// Config.MaxConsecutiveRetries > 0.
var ErrRetryBudgetExhausted = errors.New("retry budget exhausted")

// Payload is one dispatched loop execution.
type Payload struct {
	TaskID                  string   `json:"task_id"`
	Goal                    string   `json:"goal"`
	InitialBrowserEndpoints []string `json:"initial_browser_endpoints"`
}

// Endpoint returns the browser the loop attaches to; empty means launch one.
func (p Payload) Endpoint() string {
	if len(p.InitialBrowserEndpoints) == 0 {
		return ""
	}
	return p.InitialBrowserEndpoints[0]
}

// Reporter receives status changes. Implementations refuse changes that
// are no longer legal (for example after a stop) by returning an error.
type Reporter interface {
	Running(ctx context.Context, taskID string) error
	Completed(ctx context.Context, taskID, result string) error
	Failed(ctx context.Context, taskID, reason string) error
	NeedsIntervention(ctx context.Context, taskID, reason string, failedCtx map[string]any) error
	// ShouldStop is read at every iteration boundary.
	ShouldStop(ctx context.Context, taskID string) bool
}

// Recoverer handles a failed action.
type Recoverer interface {
	Handle(ctx context.Context, session browser.Session, inc recovery.Incident) recovery.Outcome
}

// ScenarioMemory is the scenario base as seen by the loop.
type ScenarioMemory interface {
	SearchScenarios(ctx context.Context, goal string, k int) ([]memory.ScenarioMatch, error)
	AddScenario(ctx context.Context, goal string, steps []string) (string, error)
}

// Metrics receives per-action and per-run observations.
type Metrics interface {
	ActionExecuted(kind string, ok bool)
	LoopFinished(termination string, iterations int, elapsed time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) ActionExecuted(string, bool)             {}
func (nopMetrics) LoopFinished(string, int, time.Duration) {}

// Termination says why a run ended.
type Termination string

const (
	Completed    Termination = "completed"
	Failed       Termination = "failed"
	Intervention Termination = "human_intervention_required"
	Stopped      Termination = "stopped"
	// Aborted means the reporter refused a status change.
	Aborted Termination = "aborted"
)

// Result summarizes a run.
type Result struct {
	Termination Termination
	Result      string
	Reason      string
	Iterations  int
}

// Config 控制循环参数
type Config struct {
	// MaxConsecutiveRetries 0 表示不限制
	MaxConsecutiveRetries int `yaml:"max_consecutive_retries" env:"MAX_CONSECUTIVE_RETRIES"`
	// HintMaxDistance 场景提示的最大余弦距离
	HintMaxDistance float32 `yaml:"hint_max_distance" env:"HINT_MAX_DISTANCE"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{HintMaxDistance: 0.35}
}
