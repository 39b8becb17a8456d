package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/webpilot/internal/tlsutil"
	"github.com/BaSui01/webpilot/llm/retry"
	"github.com/BaSui01/webpilot/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Job states reported by the status endpoint.
const (
	jobCompleted  = "COMPLETED"
	jobFailed     = "FAILED"
	jobCancelled  = "CANCELLED"
	jobTimedOut   = "TIMED_OUT"
	jobInQueue    = "IN_QUEUE"
	jobInProgress = "IN_PROGRESS"
)

// RunPodClient talks to a serverless job API: a prompt is submitted with
// POST {base}/{endpoint}/run and the result is collected by polling
// GET {base}/{endpoint}/status/{id}.
type RunPodClient struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	poll       retry.Policy
	submit     retry.Retryer
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewRunPodClient validates cfg and builds a client.
func NewRunPodClient(cfg Config, logger *zap.Logger) (*RunPodClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EndpointID == "" {
		return nil, fmt.Errorf("runpod: endpoint_id is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("runpod: api_key is required")
	}
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.PollInitialInterval <= 0 {
		cfg.PollInitialInterval = def.PollInitialInterval
	}
	if cfg.PollMaxInterval <= 0 {
		cfg.PollMaxInterval = def.PollMaxInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}

	logger = logger.With(zap.String("component", "runpod_client"))
	return &RunPodClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/") + "/" + cfg.EndpointID,
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		poll: retry.Policy{
			InitialDelay: cfg.PollInitialInterval,
			MaxDelay:     cfg.PollMaxInterval,
			Multiplier:   1.5,
			Jitter:       true,
		},
		submit:     retry.NewBackoffRetryer(retry.DefaultPolicy(), logger),
		httpClient: tlsutil.HTTPClient(cfg.RequestTimeout),
		limiter:    newLimiter(cfg),
		logger:     logger,
	}, nil
}

func (c *RunPodClient) Name() string { return BackendRunPod }

type jobStatus struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
}

// Complete submits prompt as a job and waits for its output within the
// configured deadline.
func (c *RunPodClient) Complete(ctx context.Context, prompt string) (string, error) {
	if err := wait(ctx, c.limiter); err != nil {
		return "", types.NewError(types.ErrUpstreamTimeout, "rate limiter wait").WithCause(err).WithRetryable(true)
	}

	jobID, err := c.run(ctx, prompt)
	if err != nil {
		return "", err
	}
	c.logger.Debug("job submitted", zap.String("job_id", jobID))

	var result jobStatus
	err = retry.Poll(ctx, c.poll, c.timeout, func(ctx context.Context) (bool, error) {
		st, err := c.status(ctx, jobID)
		if err != nil {
			return false, retry.WrapRetryable(err)
		}
		switch st.Status {
		case jobCompleted:
			result = st
			return true, nil
		case jobFailed, jobCancelled, jobTimedOut:
			msg := st.Error
			if msg == "" {
				msg = "job ended with status " + st.Status
			}
			return false, types.NewError(types.ErrUpstreamError, msg)
		default: // IN_QUEUE, IN_PROGRESS or anything new
			return false, nil
		}
	})
	if err != nil {
		if errors.Is(err, retry.ErrDeadlineExceeded) {
			c.cancel(jobID)
			return "", types.NewError(types.ErrUpstreamTimeout, "inference job did not complete in time").
				WithCause(err).WithRetryable(true)
		}
		if _, ok := types.AsError(err); ok {
			return "", err
		}
		return "", types.NewError(types.ErrUpstreamError, "inference job polling failed").WithCause(err)
	}

	text, err := extractText(result.Output)
	if err != nil {
		return "", types.NewError(types.ErrUpstreamError, "unexpected job output").WithCause(err)
	}
	return text, nil
}

func (c *RunPodClient) run(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(map[string]any{"input": map[string]any{"prompt": prompt}})
	if err != nil {
		return "", fmt.Errorf("marshal run request: %w", err)
	}

	var st jobStatus
	err = c.submit.Do(ctx, func() error {
		st = jobStatus{}
		return c.doJSON(ctx, http.MethodPost, c.baseURL+"/run", body, &st)
	})
	if err != nil {
		return "", err
	}
	if st.ID == "" {
		return "", types.NewError(types.ErrUpstreamError, "run response carried no job id")
	}
	return st.ID, nil
}

func (c *RunPodClient) status(ctx context.Context, jobID string) (jobStatus, error) {
	var st jobStatus
	err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/status/"+jobID, nil, &st)
	return st, err
}

// cancel is best effort; the job may already be finished.
func (c *RunPodClient) cancel(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/cancel/"+jobID, nil, nil); err != nil {
		c.logger.Debug("cancel job failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (c *RunPodClient) doJSON(ctx context.Context, method, url string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.NewError(types.ErrUpstreamError, "request failed").WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return types.FromUpstreamStatus(resp.StatusCode, string(msg))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewError(types.ErrUpstreamError, "decode response").WithCause(err)
	}
	return nil
}

// extractText pulls the generated text out of the job output. Workers
// emit either [{"choices":[{"text":...}]}], the same with "tokens", an
// object with "choices", or a bare string.
func extractText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", errors.New("empty output")
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	type choice struct {
		Text    string   `json:"text"`
		Tokens  []string `json:"tokens"`
		Message *struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	type chunk struct {
		Choices []choice `json:"choices"`
	}

	var chunks []chunk
	if err := json.Unmarshal(raw, &chunks); err != nil {
		var single chunk
		if err := json.Unmarshal(raw, &single); err != nil {
			return "", fmt.Errorf("unrecognised output shape: %w", err)
		}
		chunks = []chunk{single}
	}

	for _, ch := range chunks {
		for _, c := range ch.Choices {
			switch {
			case c.Text != "":
				return c.Text, nil
			case len(c.Tokens) > 0:
				return strings.Join(c.Tokens, ""), nil
			case c.Message != nil && c.Message.Content != "":
				return c.Message.Content, nil
			}
		}
	}
	return "", errors.New("no choices in output")
}
