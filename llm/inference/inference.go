package inference

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Completer turns a prompt into raw model text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Name() string
}

// Backend names accepted by New.
const (
	BackendRunPod = "runpod"
	BackendOpenAI = "openai"
)

// Config selects and configures one inference backend.
type Config struct {
	Backend    string        `yaml:"backend" env:"BACKEND"`
	BaseURL    string        `yaml:"base_url" env:"BASE_URL"`
	EndpointID string        `yaml:"endpoint_id" env:"ENDPOINT_ID"`
	APIKey     string        `yaml:"api_key" env:"API_KEY"`
	Model      string        `yaml:"model" env:"MODEL"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`

	// Job API polling
	PollInitialInterval time.Duration `yaml:"poll_initial_interval" env:"POLL_INITIAL_INTERVAL"`
	PollMaxInterval     time.Duration `yaml:"poll_max_interval" env:"POLL_MAX_INTERVAL"`
	RequestTimeout      time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`

	// Outbound rate limit; zero disables it.
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`

	Temperature     float64 `yaml:"temperature" env:"TEMPERATURE"`
	MaxPromptTokens int     `yaml:"max_prompt_tokens" env:"MAX_PROMPT_TOKENS"`
}

// DefaultConfig mirrors the job API defaults: 120s overall, polls growing
// from 1s to 5s.
func DefaultConfig() Config {
	return Config{
		Backend:             BackendRunPod,
		BaseURL:             "https://api.runpod.ai/v2",
		Model:               "gemma3:12b",
		Timeout:             120 * time.Second,
		PollInitialInterval: time.Second,
		PollMaxInterval:     5 * time.Second,
		RequestTimeout:      20 * time.Second,
		RateLimitRPS:        2,
		RateLimitBurst:      4,
		Temperature:         0.1,
		MaxPromptTokens:     6000,
	}
}

// New builds the backend named in cfg.Backend.
func New(cfg Config, logger *zap.Logger) (Completer, error) {
	switch cfg.Backend {
	case BackendRunPod, "":
		return NewRunPodClient(cfg, logger)
	case BackendOpenAI:
		return NewChatClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported inference backend: %s (supported: runpod, openai)", cfg.Backend)
	}
}

func newLimiter(cfg Config) *rate.Limiter {
	if cfg.RateLimitRPS <= 0 {
		return nil
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
}

func wait(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}
