package embedding

import "context"

// Provider 定义统一的嵌入提供者接口.
type Provider interface {
	// Embed returns one vector per input, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery 是嵌入单个文本的便捷方法.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	Name() string

	// Dimensions returns the configured output size, or 0 when unknown.
	Dimensions() int
}
