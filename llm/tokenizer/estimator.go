package tokenizer

// Estimator is a rune-count-based token estimator. It distinguishes CJK
// characters (about 1.5 runes per token) from the rest (about 4).
type Estimator struct{}

// NewEstimator creates a generic estimator.
func NewEstimator() *Estimator { return &Estimator{} }

func (Estimator) Name() string { return "estimator" }

func (Estimator) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	total, cjk := 0, 0
	for _, r := range text {
		total++
		if isCJK(r) {
			cjk++
		}
	}
	n := int(float64(cjk)/1.5 + float64(total-cjk)/4.0)
	if n == 0 {
		n = 1
	}
	return n
}

func (e Estimator) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 || e.CountTokens(text) <= maxTokens {
		return text
	}
	// walk runes until the estimated budget is used up
	budget := float64(maxTokens)
	used := 0.0
	for i, r := range text {
		cost := 0.25
		if isCJK(r) {
			cost = 1 / 1.5
		}
		if used+cost > budget {
			return text[:i] + TruncationMarker
		}
		used += cost
	}
	return text
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified Ideographs
		(r >= 0x3400 && r <= 0x4DBF) || // CJK Extension A
		(r >= 0x20000 && r <= 0x2A6DF) || // CJK Extension B
		(r >= 0xF900 && r <= 0xFAFF) || // CJK Compatibility Ideographs
		(r >= 0x3000 && r <= 0x303F) || // CJK Symbols and Punctuation
		(r >= 0xFF00 && r <= 0xFFEF) // Halfwidth and Fullwidth Forms
}
