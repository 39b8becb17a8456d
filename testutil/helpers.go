// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 等待任务状态推进、收集状态快照等异步断言
//
// 使用方法:
//
//	task := testutil.WaitForStatus(t, manager, id, persistence.StatusCompleted, 3*time.Second)
// =============================================================================
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/webpilot/agent/persistence"
)

// pollInterval 异步断言的轮询间隔
const pollInterval = 10 * time.Millisecond

// TestContext 返回 30 秒超时的测试上下文，测试结束时取消
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// ⏱️ 异步等待
// =============================================================================

// WaitFor 轮询 condition 直到为真或超时
func WaitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(pollInterval)
	}
	return condition()
}

// WaitForChannel 等待通道接收或超时
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v := <-ch:
		return v, true
	case <-timer.C:
		var zero T
		return zero, false
	}
}

// AssertEventuallyTrue 断言条件在超时前变为真
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	if !WaitFor(condition, timeout) {
		t.Errorf("condition did not become true within %v", timeout)
	}
}

// =============================================================================
// 📋 任务状态
// =============================================================================

// TaskGetter 按 id 读取任务；lifecycle.Manager 与各 TaskStore 都满足
type TaskGetter interface {
	Get(ctx context.Context, id string) (*persistence.Task, error)
}

// WaitForStatus 轮询任务直到进入 want 状态，返回该快照。
// 任务先进入其他终态时立即失败。
func WaitForStatus(t *testing.T, tasks TaskGetter, id string, want persistence.TaskStatus, timeout time.Duration) *persistence.Task {
	t.Helper()
	var last *persistence.Task
	ok := WaitFor(func() bool {
		task, err := tasks.Get(context.Background(), id)
		if err != nil {
			return false
		}
		last = task
		return task.Status == want || task.Status.IsTerminal()
	}, timeout)

	switch {
	case last == nil:
		t.Fatalf("task %s never readable", id)
	case last.Status != want:
		t.Fatalf("task %s: want status %s, got %s (reason %q, ok=%v)", id, want, last.Status, last.StatusReason, ok)
	}
	return last
}

// CollectStatuses 从快照通道读取 n 个状态，超时则以已收到的部分失败
func CollectStatuses(t *testing.T, events <-chan *persistence.Task, n int, timeout time.Duration) []persistence.TaskStatus {
	t.Helper()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	seen := make([]persistence.TaskStatus, 0, n)
	for len(seen) < n {
		select {
		case snap, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed after %v", seen)
			}
			seen = append(seen, snap.Status)
		case <-timer.C:
			t.Fatalf("only saw %v within %v", seen, timeout)
		}
	}
	return seen
}
