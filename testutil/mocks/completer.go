// MockCompleter 推理后端的测试模拟实现。
//
// 支持按顺序回放响应、错误注入与调用记录。
package mocks

import (
	"context"
	"errors"
	"sync"

	"github.com/BaSui01/webpilot/llm/inference"
)

// ErrNoScriptedResponse 脚本响应耗尽时返回
var ErrNoScriptedResponse = errors.New("mock completer: no scripted response left")

// MockCompleter 是 inference.Completer 的模拟实现
type MockCompleter struct {
	mu sync.Mutex

	responses []string
	fallback  string
	err       error
	fn        func(ctx context.Context, prompt string) (string, error)

	prompts []string
}

// NewMockCompleter 创建新的 MockCompleter
func NewMockCompleter() *MockCompleter {
	return &MockCompleter{}
}

// WithResponses 追加按顺序返回的响应
func (m *MockCompleter) WithResponses(responses ...string) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, responses...)
	return m
}

// WithFallback 设置脚本耗尽后重复返回的响应
func (m *MockCompleter) WithFallback(response string) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = response
	return m
}

// WithError 设置返回错误
func (m *MockCompleter) WithError(err error) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithFunc 设置自定义响应函数，优先于脚本
func (m *MockCompleter) WithFunc(fn func(ctx context.Context, prompt string) (string, error)) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
	return m
}

func (m *MockCompleter) Name() string { return "mock" }

func (m *MockCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	fn := m.fn
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, prompt)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if len(m.responses) > 0 {
		r := m.responses[0]
		m.responses = m.responses[1:]
		return r, nil
	}
	if m.fallback != "" {
		return m.fallback, nil
	}
	return "", ErrNoScriptedResponse
}

// Prompts 返回收到的全部 prompt
func (m *MockCompleter) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// CallCount 返回调用次数
func (m *MockCompleter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

var _ inference.Completer = (*MockCompleter)(nil)
