package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/webpilot/internal/tlsutil"
	"github.com/BaSui01/webpilot/types"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const chatSystemPrompt = "You control a web browser. Answer with exactly one JSON object and nothing else."

// ChatClient calls an OpenAI-compatible chat completions endpoint.
type ChatClient struct {
	client      openai.Client
	model       string
	temperature float64
	timeout     time.Duration
	limiter     *rate.Limiter
	logger      *zap.Logger
}

// NewChatClient builds a chat-completions backend. An EndpointID without a
// BaseURL targets the serverless OpenAI-compatible route of that endpoint.
func NewChatClient(cfg Config, logger *zap.Logger) (*ChatClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api_key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai: model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(2),
		option.WithHTTPClient(tlsutil.HTTPClient(cfg.Timeout)),
	}
	if base := chatBaseURL(cfg); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}

	return &ChatClient{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		limiter:     newLimiter(cfg),
		logger:      logger.With(zap.String("component", "chat_client")),
	}, nil
}

func chatBaseURL(cfg Config) string {
	switch {
	case cfg.EndpointID != "" && (cfg.BaseURL == "" || cfg.BaseURL == DefaultConfig().BaseURL):
		return fmt.Sprintf("%s/%s/openai/v1/", DefaultConfig().BaseURL, cfg.EndpointID)
	case cfg.BaseURL != "":
		return strings.TrimRight(cfg.BaseURL, "/") + "/"
	}
	return ""
}

func (c *ChatClient) Name() string { return BackendOpenAI }

func (c *ChatClient) Complete(ctx context.Context, prompt string) (string, error) {
	if err := wait(ctx, c.limiter); err != nil {
		return "", types.NewError(types.ErrUpstreamTimeout, "rate limiter wait").WithCause(err).WithRetryable(true)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(chatSystemPrompt),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(c.temperature),
	})
	if err != nil {
		return "", mapChatError(err)
	}
	if len(resp.Choices) == 0 {
		return "", types.NewError(types.ErrUpstreamError, "chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func mapChatError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrUpstreamTimeout, "chat completion timed out").WithCause(err).WithRetryable(true)
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return types.FromUpstreamStatus(apiErr.StatusCode, apiErr.Message).WithCause(err)
	}
	if errors.Is(err, context.Canceled) {
		return types.NewError(types.ErrUpstreamError, "chat completion cancelled").WithCause(err)
	}
	return types.NewError(types.ErrUpstreamError, "chat completion failed").WithCause(err).
		WithHTTPStatus(http.StatusBadGateway).WithRetryable(true)
}
