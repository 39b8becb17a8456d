package decision

import (
	"context"
	"time"

	"github.com/BaSui01/webpilot/agent/action"
	"github.com/BaSui01/webpilot/agent/browser"
)

// Request is everything the model sees when choosing the next action.
type Request struct {
	Goal       string
	History    []action.Action
	Perception browser.Perception
	// Hint 相似目标的历史成功步骤，可为空
	Hint string
}

// Decider picks exactly one next action. It never fails: problems are
// reported as a Think.
type Decider interface {
	Decide(ctx context.Context, req Request) action.Action
}

// Strategy is a recovery strategy suggested for a failed action.
type Strategy string

const (
	StrategyRetry             Strategy = "retry"
	StrategyRefresh           Strategy = "refresh"
	StrategyGoBack            Strategy = "go_back"
	StrategyHumanIntervention Strategy = "human_intervention"
)

// ErrorTypes lists the failure categories the model may answer with.
var ErrorTypes = []string{
	"stale_element",
	"navigation_error",
	"element_not_found",
	"unexpected_content",
	"login_failed",
	"unknown",
}

// ClassifyRequest describes a failed action.
type ClassifyRequest struct {
	Goal             string
	URL              string
	FailedAction     string
	ExceptionMessage string
	Markup           string
}

// Classification is the model's verdict on a failure.
type Classification struct {
	ErrorType string   `json:"error_type"`
	Strategy  Strategy `json:"recovery_strategy"`
	Reasoning string   `json:"reasoning,omitempty"`
}

// Classifier suggests a recovery strategy. On error the returned
// Classification is still usable and asks for human intervention.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (Classification, error)
}

// Observer receives inference call timings. op is "decide" or "classify".
type Observer interface {
	ObserveInference(op string, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveInference(string, time.Duration, error) {}
