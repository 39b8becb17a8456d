package tokenizer

// Tokenizer counts tokens and cuts text down to a token budget.
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) int

	// Truncate returns the longest prefix of text that fits in maxTokens.
	// maxTokens <= 0 means no limit.
	Truncate(text string, maxTokens int) string

	Name() string
}

// TruncationMarker is appended to text that was cut.
const TruncationMarker = "\n<!-- truncated -->"
