package metrics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/webpilot/agent/recovery"
	"github.com/BaSui01/webpilot/internal/database"
	"github.com/BaSui01/webpilot/llm/retry"
	"github.com/BaSui01/webpilot/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// promauto 注册到默认 registry，每个测试使用独立 namespace
var namespaceSeq atomic.Uint64

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	return NewCollector(fmt.Sprintf("wp_test_%d", namespaceSeq.Add(1)), zap.NewNop())
}

func TestCollector_HTTP(t *testing.T) {
	c := newTestCollector(t)

	c.RecordHTTPRequest("POST", "/api/v1/tasks", 201, 40*time.Millisecond, 120, 300)
	c.RecordHTTPRequest("POST", "/api/v1/tasks", 400, 2*time.Millisecond, 12, 90)
	c.RecordHTTPRequest("GET", "/api/v1/tasks/{id}", 404, time.Millisecond, 0, 80)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/api/v1/tasks", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/api/v1/tasks", "4xx")))
	assert.Equal(t, 3, testutil.CollectAndCount(c.httpRequestsTotal))
	assert.Equal(t, 2, testutil.CollectAndCount(c.httpRequestDuration))
}

func TestStatusCode(t *testing.T) {
	for code, want := range map[int]string{
		101: "unknown", 200: "2xx", 204: "2xx", 302: "3xx", 429: "4xx", 503: "5xx",
	} {
		assert.Equal(t, want, statusCode(code), "%d", code)
	}
}

func TestCollector_ObserveInference(t *testing.T) {
	c := newTestCollector(t)

	c.ObserveInference("decide", 2*time.Second, nil)
	c.ObserveInference("decide", 30*time.Second, context.DeadlineExceeded)
	c.ObserveInference("decide", time.Minute, fmt.Errorf("poll: %w", retry.ErrDeadlineExceeded))
	c.ObserveInference("decide", time.Second, types.FromUpstreamStatus(429, "slow down"))
	c.ObserveInference("classify", time.Second, types.FromUpstreamStatus(401, ""))
	c.ObserveInference("classify", time.Second, errors.New("boom"))

	count := func(op, status string) float64 {
		return testutil.ToFloat64(c.inferenceRequestsTotal.WithLabelValues(op, status))
	}
	assert.Equal(t, 1.0, count("decide", "success"))
	assert.Equal(t, 2.0, count("decide", "timeout"))
	assert.Equal(t, 1.0, count("decide", "rate_limited"))
	assert.Equal(t, 1.0, count("classify", "unauthorized"))
	assert.Equal(t, 1.0, count("classify", "error"))
	assert.Equal(t, 2, testutil.CollectAndCount(c.inferenceDuration))
}

func TestCollector_TaskTransitionGauge(t *testing.T) {
	c := newTestCollector(t)

	c.TaskTransition("", "created")
	c.TaskTransition("created", "queued")
	c.TaskTransition("queued", "running")
	c.TaskTransition("running", "human_intervention_required")
	c.TaskTransition("human_intervention_required", "queued")

	gauge := func(status string) float64 { return testutil.ToFloat64(c.tasksByStatus.WithLabelValues(status)) }
	assert.Equal(t, 0.0, gauge("created"))
	assert.Equal(t, 0.0, gauge("running"))
	assert.Equal(t, 1.0, gauge("queued"))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.taskTransitions.WithLabelValues("running", "human_intervention_required")))
}

func TestCollector_LoopAndRecovery(t *testing.T) {
	c := newTestCollector(t)

	c.ActionExecuted("click", true)
	c.ActionExecuted("click", false)
	c.ActionExecuted("type", true)
	c.LoopFinished("completed", 4, 12*time.Second)
	c.LoopFinished("human_intervention_required", 9, time.Minute)
	c.ObserveRecovery("refresh", recovery.SourceConsult, recovery.Continue)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.actionsTotal.WithLabelValues("click", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.actionsTotal.WithLabelValues("type", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.loopRunsTotal.WithLabelValues("human_intervention_required")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.recoveriesTotal.WithLabelValues("refresh", "consult", "continue")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.loopIterations))
	assert.Equal(t, 2, testutil.CollectAndCount(c.loopDuration))
}

func TestCollector_EmbeddingCache(t *testing.T) {
	c := newTestCollector(t)

	c.RecordCacheHit("embedding")
	c.RecordCacheHit("embedding")
	c.RecordCacheMiss("embedding")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.cacheHits.WithLabelValues("embedding")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheMisses.WithLabelValues("embedding")))
}

func TestCollector_RecordDBPool(t *testing.T) {
	pool, err := database.Open(database.Config{
		Driver: "sqlite",
		DSN:    ":memory:",
		Pool:   database.PoolConfig{MaxOpenConns: 2, MaxIdleConns: 2},
	}, zap.NewNop())
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, pool.Ping(context.Background()))

	c := newTestCollector(t)
	c.RecordDBPool("tasks", pool)

	stats := pool.Stats()
	assert.Equal(t, float64(stats.OpenConnections), testutil.ToFloat64(c.dbConnections.WithLabelValues("tasks", "open")))
	assert.Equal(t, float64(stats.Idle), testutil.ToFloat64(c.dbConnections.WithLabelValues("tasks", "idle")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.dbConnections.WithLabelValues("tasks", "in_use")))
	assert.Equal(t, 3, testutil.CollectAndCount(c.dbConnections))
	assert.Equal(t, 1, testutil.CollectAndCount(c.dbWaits))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	c := newTestCollector(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordHTTPRequest("GET", "/api/v1/tasks", 200, time.Millisecond, 0, 64)
			c.ObserveInference("decide", 500*time.Millisecond, nil)
			c.TaskTransition("queued", "running")
		}()
	}
	wg.Wait()

	assert.Equal(t, 16.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/api/v1/tasks", "2xx")))
	assert.Equal(t, 16.0, testutil.ToFloat64(c.inferenceRequestsTotal.WithLabelValues("decide", "success")))
	assert.Equal(t, 16.0, testutil.ToFloat64(c.taskTransitions.WithLabelValues("queued", "running")))
}

func TestCollector_Exposition(t *testing.T) {
	ns := fmt.Sprintf("wp_expo_%d", namespaceSeq.Add(1))
	c := NewCollector(ns, zap.NewNop())
	c.LoopFinished("completed", 3, time.Second)

	expected := `
# HELP %[1]s_loop_runs_total Total number of finished control loops
# TYPE %[1]s_loop_runs_total counter
%[1]s_loop_runs_total{termination="completed"} 1
`
	require.NoError(t, testutil.CollectAndCompare(c.loopRunsTotal,
		strings.NewReader(fmt.Sprintf(expected, ns)), ns+"_loop_runs_total"))
}
