// MockSession / MockConnector 浏览器会话的测试模拟实现。
//
// 支持页面脚本、按操作注入错误与调用记录。
package mocks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/BaSui01/webpilot/agent/browser"
)

// --- MockSession 结构 ---

// MockSession 是 browser.Session 的模拟实现。
// 调用记录格式: "navigate <url>", "click <id>", "type <id> <text>", "reload", "go_back"。
type MockSession struct {
	mu sync.Mutex

	endpoint    string
	page        browser.Perception
	perceiveErr error

	// 按操作名排队的错误，每次调用消费一个
	failures map[string][]error
	// 调用后回调，可用于切换页面
	onCall func(call string, s *MockSession)

	calls  []string
	closed bool
}

// NewMockSession 创建新的 MockSession
func NewMockSession(endpoint string) *MockSession {
	return &MockSession{
		endpoint: endpoint,
		page:     browser.Perception{URL: "about:blank"},
		failures: make(map[string][]error),
	}
}

// --- Builder 方法 ---

// WithPage 设置当前页面
func (m *MockSession) WithPage(p browser.Perception) *MockSession {
	m.SetPage(p)
	return m
}

// WithPerceiveError 让 Perceive 返回错误
func (m *MockSession) WithPerceiveError(err error) *MockSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perceiveErr = err
	return m
}

// FailNext 让操作 op（navigate/click/type/reload/go_back）下一次调用失败。
// 多次调用按顺序排队。
func (m *MockSession) FailNext(op string, err error) *MockSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], err)
	return m
}

// OnCall 设置每次操作成功后的回调
func (m *MockSession) OnCall(fn func(call string, s *MockSession)) *MockSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCall = fn
	return m
}

// SetPage 替换当前页面，可在 OnCall 回调中使用
func (m *MockSession) SetPage(p browser.Perception) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.page = p
}

// --- browser.Session 接口实现 ---

func (m *MockSession) Endpoint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoint
}

func (m *MockSession) Perceive(ctx context.Context) (browser.Perception, error) {
	if err := ctx.Err(); err != nil {
		return browser.Perception{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return browser.Perception{}, fmt.Errorf("%w: closed", browser.ErrSessionUnavailable)
	}
	if m.perceiveErr != nil {
		return browser.Perception{}, m.perceiveErr
	}
	return m.page, nil
}

func (m *MockSession) Navigate(ctx context.Context, url string) error {
	return m.do(ctx, "navigate", "navigate "+url)
}

func (m *MockSession) Click(ctx context.Context, elementID string) error {
	return m.do(ctx, "click", "click "+elementID)
}

func (m *MockSession) Type(ctx context.Context, elementID, text string) error {
	return m.do(ctx, "type", "type "+elementID+" "+text)
}

func (m *MockSession) Reload(ctx context.Context) error {
	return m.do(ctx, "reload", "reload")
}

func (m *MockSession) GoBack(ctx context.Context) error {
	return m.do(ctx, "go_back", "go_back")
}

func (m *MockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockSession) do(ctx context.Context, op, call string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.calls = append(m.calls, call)
	if queue := m.failures[op]; len(queue) > 0 {
		err := queue[0]
		m.failures[op] = queue[1:]
		m.mu.Unlock()
		return err
	}
	fn := m.onCall
	m.mu.Unlock()

	if fn != nil {
		fn(call, m)
	}
	return nil
}

// --- 调用记录 ---

// Calls 返回全部调用记录的副本
func (m *MockSession) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// CallCount 返回以 prefix 开头的调用次数
func (m *MockSession) CallCount(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// Closed 报告会话是否已关闭
func (m *MockSession) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// --- MockConnector ---

// MockConnector 是 browser.Connector 的模拟实现
type MockConnector struct {
	mu        sync.Mutex
	session   *MockSession
	err       error
	endpoints []string
}

// NewMockConnector 创建总是返回 session 的连接器
func NewMockConnector(session *MockSession) *MockConnector {
	return &MockConnector{session: session}
}

// WithError 设置连接错误
func (c *MockConnector) WithError(err error) *MockConnector {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
	return c
}

func (c *MockConnector) Connect(ctx context.Context, endpoint string) (browser.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoints = append(c.endpoints, endpoint)
	if c.err != nil {
		return nil, c.err
	}
	if c.session == nil {
		return nil, errors.New("mock connector: no session configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// 重新接入同一个会话，模拟远程浏览器在断开后继续运行
	c.session.mu.Lock()
	c.session.closed = false
	if endpoint != "" && c.session.endpoint == "" {
		c.session.endpoint = endpoint
	}
	c.session.mu.Unlock()
	return c.session, nil
}

// Endpoints 返回每次 Connect 请求的端点
func (c *MockConnector) Endpoints() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.endpoints...)
}

var (
	_ browser.Session   = (*MockSession)(nil)
	_ browser.Connector = (*MockConnector)(nil)
)
