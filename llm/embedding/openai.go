package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/BaSui01/webpilot/internal/tlsutil"
	"github.com/BaSui01/webpilot/types"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"
)

// OpenAIProvider implements Provider against any OpenAI-compatible
// /embeddings route.
type OpenAIProvider struct {
	client openai.Client
	cfg    Config
	logger *zap.Logger
}

// NewOpenAIProvider creates a new OpenAI-compatible embedding provider.
func NewOpenAIProvider(cfg Config, logger *zap.Logger) (*OpenAIProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding: api_key is required")
	}
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.resolveBaseURL()),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(1),
		option.WithHTTPClient(tlsutil.HTTPClient(cfg.Timeout)),
	)
	return &OpenAIProvider{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "embedding"), zap.String("model", cfg.Model)),
	}, nil
}

func (p *OpenAIProvider) Name() string    { return "openai-compatible" }
func (p *OpenAIProvider) Dimensions() int { return p.cfg.Dimensions }

func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	params := openai.EmbeddingNewParams{
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:          openai.EmbeddingModel(p.cfg.Model),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if p.cfg.Dimensions > 0 {
		params.Dimensions = openai.Int(int64(p.cfg.Dimensions))
	}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, types.FromUpstreamStatus(apiErr.StatusCode, apiErr.Message).WithCause(err)
		}
		return nil, types.NewError(types.ErrUpstreamError, "embedding request failed").WithCause(err).WithRetryable(true)
	}
	if len(resp.Data) != len(texts) {
		return nil, types.NewError(types.ErrUpstreamError,
			fmt.Sprintf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts)))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		idx := int(d.Index)
		if idx < 0 || idx >= len(out) {
			return nil, types.NewError(types.ErrUpstreamError, fmt.Sprintf("embedding index %d out of range", idx))
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[idx] = vec
	}
	return out, nil
}

func (p *OpenAIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, types.NewError(types.ErrUpstreamError, "empty embedding")
	}
	return vecs[0], nil
}
