package tokenizer

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// Tiktoken counts with a BPE encoding. The encoding is loaded lazily on
// first use (this may download data); if loading fails every call falls
// back to the Estimator.
type Tiktoken struct {
	encoding string
	logger   *zap.Logger

	once     sync.Once
	enc      *tiktoken.Tiktoken
	fallback Estimator
}

// NewTiktoken creates a tokenizer for the named encoding, cl100k_base when
// empty.
func NewTiktoken(encoding string, logger *zap.Logger) *Tiktoken {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tiktoken{encoding: encoding, logger: logger}
}

func (t *Tiktoken) init() *tiktoken.Tiktoken {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.logger.Warn("tiktoken unavailable, using estimator",
				zap.String("encoding", t.encoding), zap.Error(err))
			return
		}
		t.enc = enc
	})
	return t.enc
}

func (t *Tiktoken) Name() string {
	if t.init() == nil {
		return t.fallback.Name()
	}
	return "tiktoken:" + t.encoding
}

func (t *Tiktoken) CountTokens(text string) int {
	enc := t.init()
	if enc == nil {
		return t.fallback.CountTokens(text)
	}
	return len(enc.Encode(text, nil, nil))
}

func (t *Tiktoken) Truncate(text string, maxTokens int) string {
	enc := t.init()
	if enc == nil {
		return t.fallback.Truncate(text, maxTokens)
	}
	if maxTokens <= 0 {
		return text
	}
	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return enc.Decode(tokens[:maxTokens]) + TruncationMarker
}
