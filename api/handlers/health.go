package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// readyTimeout 单次就绪检查的总超时
const readyTimeout = 5 * time.Second

// HealthCheck 就绪检查；任一失败时 /ready 返回 503
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// InfoFunc 返回附加在 /ready 响应里的运行信息（经验库条目数、调度积压等）。
// 出错只记录在 info 中，不影响就绪状态。
type InfoFunc func(ctx context.Context) (any, error)

// HealthHandler 健康检查处理器
type HealthHandler struct {
	logger  *zap.Logger
	started time.Time

	mu     sync.RWMutex
	checks []HealthCheck
	infos  map[string]InfoFunc
}

// ServiceHealthResponse 健康状态响应
type ServiceHealthResponse struct {
	Status    string                 `json:"status"` // healthy / unhealthy
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Info      map[string]any         `json:"info,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status  string `json:"status"` // pass / fail
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger:  logger.With(zap.String("component", "health")),
		started: time.Now(),
		infos:   make(map[string]InfoFunc),
	}
}

// RegisterCheck 注册就绪检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// RegisterInfo 注册运行信息，同名覆盖
func (h *HealthHandler) RegisterInfo(name string, fn InfoFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.infos[name] = fn
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealth 存活检查：进程在运行即 200
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, ServiceHealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
	})
}

// HandleHealthz Kubernetes 存活探针
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	h.HandleHealth(w, r)
}

// HandleReady 就绪检查：并发执行全部检查，再收集运行信息
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	infos := make(map[string]InfoFunc, len(h.infos))
	for name, fn := range h.infos {
		infos[name] = fn
	}
	h.mu.RUnlock()

	resp := ServiceHealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Checks:    h.runChecks(ctx, checks),
	}
	for _, res := range resp.Checks {
		if res.Status != "pass" {
			resp.Status = "unhealthy"
			break
		}
	}

	if len(infos) > 0 {
		resp.Info = make(map[string]any, len(infos))
		for name, fn := range infos {
			v, err := fn(ctx)
			if err != nil {
				resp.Info[name] = map[string]string{"error": err.Error()}
				continue
			}
			resp.Info[name] = v
		}
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, resp)
}

// runChecks 并发执行检查，总耗时取决于最慢的一项
func (h *HealthHandler) runChecks(ctx context.Context, checks []HealthCheck) map[string]CheckResult {
	results := make(map[string]CheckResult, len(checks))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, check := range checks {
		wg.Add(1)
		go func(check HealthCheck) {
			defer wg.Done()
			start := time.Now()
			err := check.Check(ctx)
			latency := time.Since(start)

			result := CheckResult{Status: "pass", Latency: latency.String()}
			if err != nil {
				result.Status = "fail"
				result.Message = err.Error()
				h.logger.Warn("readiness check failed",
					zap.String("check", check.Name()),
					zap.Duration("latency", latency),
					zap.Error(err),
				)
			}

			mu.Lock()
			results[check.Name()] = result
			mu.Unlock()
		}(check)
	}
	wg.Wait()
	return results
}

// HandleVersion 返回构建信息
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// =============================================================================
// 🔧 内置健康检查实现
// =============================================================================

// PingCheck 以 ping 函数实现的检查（任务存储、Redis、数据库）
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingCheck 创建检查
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

func (c *PingCheck) Name() string { return c.name }

func (c *PingCheck) Check(ctx context.Context) error { return c.ping(ctx) }
