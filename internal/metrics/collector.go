package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/webpilot/agent/decision"
	"github.com/BaSui01/webpilot/agent/lifecycle"
	"github.com/BaSui01/webpilot/agent/loop"
	"github.com/BaSui01/webpilot/agent/recovery"
	"github.com/BaSui01/webpilot/internal/database"
	"github.com/BaSui01/webpilot/llm/embedding"
	"github.com/BaSui01/webpilot/llm/retry"
	"github.com/BaSui01/webpilot/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 推理指标
	inferenceRequestsTotal *prometheus.CounterVec
	inferenceDuration      *prometheus.HistogramVec

	// 任务与循环指标
	taskTransitions *prometheus.CounterVec
	tasksByStatus   *prometheus.GaugeVec
	actionsTotal    *prometheus.CounterVec
	loopRunsTotal   *prometheus.CounterVec
	loopIterations  prometheus.Histogram
	loopDuration    *prometheus.HistogramVec
	recoveriesTotal *prometheus.CounterVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 数据库指标
	dbConnections *prometheus.GaugeVec
	dbWaits       *prometheus.GaugeVec

	logger *zap.Logger
}

// vecFactory 绑定 namespace 的 promauto 构造函数
type vecFactory string

func (ns vecFactory) counter(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{Namespace: string(ns), Name: name, Help: help}, labels)
}

func (ns vecFactory) gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.NewGaugeVec(prometheus.GaugeOpts{Namespace: string(ns), Name: name, Help: help}, labels)
}

func (ns vecFactory) histogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: string(ns), Name: name, Help: help, Buckets: buckets,
	}, labels)
}

var (
	sizeBuckets      = prometheus.ExponentialBuckets(100, 10, 8)
	inferenceBuckets = []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120}
	iterationBuckets = []float64{1, 2, 5, 10, 20, 50, 100}
	loopBuckets      = []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800}
)

// NewCollector 在默认 registry 上注册全部指标；同一 namespace 每进程只能调用一次
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	ns := vecFactory(namespace)

	c := &Collector{
		httpRequestsTotal:   ns.counter("http_requests_total", "Total number of HTTP requests", "method", "path", "status"),
		httpRequestDuration: ns.histogram("http_request_duration_seconds", "HTTP request duration in seconds", prometheus.DefBuckets, "method", "path"),
		httpRequestSize:     ns.histogram("http_request_size_bytes", "HTTP request size in bytes", sizeBuckets, "method", "path"),
		httpResponseSize:    ns.histogram("http_response_size_bytes", "HTTP response size in bytes", sizeBuckets, "method", "path"),

		// op: decide / classify
		inferenceRequestsTotal: ns.counter("inference_requests_total", "Total number of inference calls", "op", "status"),
		inferenceDuration:      ns.histogram("inference_duration_seconds", "Inference call duration in seconds", inferenceBuckets, "op"),

		taskTransitions: ns.counter("task_transitions_total", "Total number of task status transitions", "from_status", "to_status"),
		tasksByStatus:   ns.gauge("tasks", "Tasks per status seen by this process", "status"),
		actionsTotal:    ns.counter("actions_total", "Total number of executed browser actions", "kind", "result"),
		loopRunsTotal:   ns.counter("loop_runs_total", "Total number of finished control loops", "termination"),
		loopIterations: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "loop_iterations",
			Help:      "Iterations per finished control loop",
			Buckets:   iterationBuckets,
		}),
		loopDuration:    ns.histogram("loop_duration_seconds", "Control loop duration in seconds", loopBuckets, "termination"),
		recoveriesTotal: ns.counter("recoveries_total", "Total number of handled failures", "strategy", "source", "verdict"),

		// cache_type: embedding
		cacheHits:   ns.counter("cache_hits_total", "Total number of cache hits", "cache_type"),
		cacheMisses: ns.counter("cache_misses_total", "Total number of cache misses", "cache_type"),

		// state: open / in_use / idle
		dbConnections: ns.gauge("db_connections", "Database connections by state", "database", "state"),
		dbWaits:       ns.gauge("db_wait_count", "Cumulative waits for a free database connection", "database"),

		logger: logger.With(zap.String("component", "metrics")),
	}

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🤖 推理指标记录
// =============================================================================

// ObserveInference 记录一次推理调用，实现 decision.Observer
func (c *Collector) ObserveInference(op string, elapsed time.Duration, err error) {
	c.inferenceRequestsTotal.WithLabelValues(op, inferenceStatus(err)).Inc()
	c.inferenceDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// =============================================================================
// 🎭 任务与循环指标记录
// =============================================================================

// TaskTransition 记录任务状态转换，实现 lifecycle.Metrics
func (c *Collector) TaskTransition(from, to string) {
	c.taskTransitions.WithLabelValues(from, to).Inc()
	if from != "" {
		c.tasksByStatus.WithLabelValues(from).Dec()
	}
	c.tasksByStatus.WithLabelValues(to).Inc()
}

// ActionExecuted 记录浏览器动作，实现 loop.Metrics
func (c *Collector) ActionExecuted(kind string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	c.actionsTotal.WithLabelValues(kind, result).Inc()
}

// LoopFinished 记录一次循环结束
func (c *Collector) LoopFinished(termination string, iterations int, elapsed time.Duration) {
	c.loopRunsTotal.WithLabelValues(termination).Inc()
	c.loopIterations.Observe(float64(iterations))
	c.loopDuration.WithLabelValues(termination).Observe(elapsed.Seconds())
}

// ObserveRecovery 记录一次失败处理，实现 recovery.Observer
func (c *Collector) ObserveRecovery(strategy string, source recovery.Source, verdict recovery.Verdict) {
	c.recoveriesTotal.WithLabelValues(strategy, string(source), string(verdict)).Inc()
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBPool 从连接池统计更新连接数，由 serve/worker 周期调用
func (c *Collector) RecordDBPool(name string, pool *database.PoolManager) {
	stats := pool.Stats()
	c.dbConnections.WithLabelValues(name, "open").Set(float64(stats.OpenConnections))
	c.dbConnections.WithLabelValues(name, "in_use").Set(float64(stats.InUse))
	c.dbConnections.WithLabelValues(name, "idle").Set(float64(stats.Idle))
	c.dbWaits.WithLabelValues(name).Set(float64(stats.WaitCount))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// inferenceStatus 把推理错误归为有限的标签值
func inferenceStatus(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, retry.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	switch types.GetErrorCode(err) {
	case types.ErrUpstreamTimeout:
		return "timeout"
	case types.ErrRateLimited:
		return "rate_limited"
	case types.ErrUnauthorized:
		return "unauthorized"
	}
	return "error"
}

var (
	_ decision.Observer       = (*Collector)(nil)
	_ recovery.Observer       = (*Collector)(nil)
	_ loop.Metrics            = (*Collector)(nil)
	_ lifecycle.Metrics       = (*Collector)(nil)
	_ embedding.CacheObserver = (*Collector)(nil)
)
