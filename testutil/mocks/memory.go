// MockExperience / MockClassifier 经验记忆与恢复分类的测试模拟实现。
package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/webpilot/agent/decision"
	"github.com/BaSui01/webpilot/agent/memory"
)

// FailureAdd 记录一次 AddFailure 调用
type FailureAdd struct {
	Context    memory.FailureContext
	Strategy   string
	Successful bool
}

// ScenarioAdd 记录一次 AddScenario 调用
type ScenarioAdd struct {
	Goal  string
	Steps []string
}

// MockExperience 模拟 memory.Experience 的检索与写入接口
type MockExperience struct {
	mu sync.Mutex

	failureMatches  []memory.FailureMatch
	scenarioMatches []memory.ScenarioMatch
	searchErr       error

	failureAdds    []FailureAdd
	scenarioAdds   []ScenarioAdd
	failureQueries int
}

// NewMockExperience 创建空的 MockExperience
func NewMockExperience() *MockExperience {
	return &MockExperience{}
}

// WithFailureMatches 设置 SearchFailures 的返回值
func (m *MockExperience) WithFailureMatches(matches ...memory.FailureMatch) *MockExperience {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failureMatches = matches
	return m
}

// WithScenarioMatches 设置 SearchScenarios 的返回值
func (m *MockExperience) WithScenarioMatches(matches ...memory.ScenarioMatch) *MockExperience {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scenarioMatches = matches
	return m
}

// WithSearchError 让检索返回错误
func (m *MockExperience) WithSearchError(err error) *MockExperience {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchErr = err
	return m
}

func (m *MockExperience) SearchFailures(_ context.Context, _ memory.FailureContext, k int, onlySuccessful bool) ([]memory.FailureMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failureQueries++
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	var out []memory.FailureMatch
	for _, fm := range m.failureMatches {
		if onlySuccessful && !fm.Successful {
			continue
		}
		out = append(out, fm)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func (m *MockExperience) AddFailure(_ context.Context, fc memory.FailureContext, strategy string, successful bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failureAdds = append(m.failureAdds, FailureAdd{Context: fc, Strategy: strategy, Successful: successful})
	return fc.ID(), nil
}

func (m *MockExperience) SearchScenarios(_ context.Context, _ string, k int) ([]memory.ScenarioMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	if k < len(m.scenarioMatches) {
		return m.scenarioMatches[:k], nil
	}
	return m.scenarioMatches, nil
}

func (m *MockExperience) AddScenario(_ context.Context, goal string, steps []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scenarioAdds = append(m.scenarioAdds, ScenarioAdd{Goal: goal, Steps: append([]string(nil), steps...)})
	return "scenario_mock", nil
}

// FailureAdds 返回 AddFailure 调用记录
func (m *MockExperience) FailureAdds() []FailureAdd {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]FailureAdd(nil), m.failureAdds...)
}

// ScenarioAdds 返回 AddScenario 调用记录
func (m *MockExperience) ScenarioAdds() []ScenarioAdd {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ScenarioAdd(nil), m.scenarioAdds...)
}

// FailureQueries 返回 SearchFailures 调用次数
func (m *MockExperience) FailureQueries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failureQueries
}

// MockClassifier 是 decision.Classifier 的模拟实现
type MockClassifier struct {
	mu       sync.Mutex
	verdicts []decision.Classification
	err      error
	requests []decision.ClassifyRequest
}

// NewMockClassifier 创建按顺序返回 verdicts 的分类器，耗尽后重复最后一个。
// 没有 verdict 时返回 human_intervention。
func NewMockClassifier(verdicts ...decision.Classification) *MockClassifier {
	return &MockClassifier{verdicts: verdicts}
}

// WithError 设置返回错误，同时返回 human_intervention
func (m *MockClassifier) WithError(err error) *MockClassifier {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

func (m *MockClassifier) Classify(_ context.Context, req decision.ClassifyRequest) (decision.Classification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	halt := decision.Classification{ErrorType: "unknown", Strategy: decision.StrategyHumanIntervention}
	if m.err != nil {
		return halt, m.err
	}
	switch len(m.verdicts) {
	case 0:
		return halt, nil
	case 1:
		return m.verdicts[0], nil
	}
	v := m.verdicts[0]
	m.verdicts = m.verdicts[1:]
	return v, nil
}

// Requests 返回收到的分类请求
func (m *MockClassifier) Requests() []decision.ClassifyRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]decision.ClassifyRequest(nil), m.requests...)
}

// CallCount 返回调用次数
func (m *MockClassifier) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

var _ decision.Classifier = (*MockClassifier)(nil)
