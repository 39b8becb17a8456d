package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/webpilot/agent/loop"
	"github.com/BaSui01/webpilot/agent/persistence"
	"github.com/BaSui01/webpilot/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	payloads []loop.Payload
	cancels  []string
	err      error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, p loop.Payload) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.payloads = append(d.payloads, p)
	return nil
}

func (d *fakeDispatcher) Cancel(taskID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancels = append(d.cancels, taskID)
	return true
}

func (d *fakeDispatcher) last() loop.Payload {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.payloads[len(d.payloads)-1]
}

type countingMetrics struct {
	mu    sync.Mutex
	edges []string
}

func (m *countingMetrics) TaskTransition(from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edges = append(m.edges, from+">"+to)
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *fakeDispatcher) {
	t.Helper()
	n := 0
	opts = append([]Option{WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("task-%d", n)
	})}, opts...)
	m := NewManager(persistence.NewMemoryTaskStore(), zap.NewNop(), opts...)
	d := &fakeDispatcher{}
	m.SetDispatcher(d)
	return m, d
}

// parkForOperator drives a fresh task to human_intervention_required.
func parkForOperator(t *testing.T, m *Manager, endpoint string) *persistence.Task {
	t.Helper()
	ctx := context.Background()
	task, err := m.Submit(ctx, "log in", nil)
	require.NoError(t, err)
	require.NoError(t, m.Running(ctx, task.ID))
	require.NoError(t, m.NeedsIntervention(ctx, task.ID, "captcha", map[string]any{
		"browser_endpoint_url": endpoint,
		"error_type":           "captcha",
	}))
	task, err = m.Get(ctx, task.ID)
	require.NoError(t, err)
	return task
}

func TestManager_Submit(t *testing.T) {
	m, d := newTestManager(t)
	ctx := context.Background()

	task, err := m.Submit(ctx, "  buy milk  ", []string{"ws://a", " ", "ws://b"})
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusQueued, task.Status)
	assert.Equal(t, "buy milk", task.Goal)
	assert.Equal(t, []string{"ws://a", "ws://b"}, task.BrowserEndpoints)

	p := d.last()
	assert.Equal(t, task.ID, p.TaskID)
	assert.Equal(t, "buy milk", p.Goal)
	assert.Equal(t, []string{"ws://a", "ws://b"}, p.InitialBrowserEndpoints)
}

func TestManager_CreateRejectsEmptyGoal(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Create(context.Background(), "   ", nil)
	assert.ErrorIs(t, err, ErrInvalidGoal)
}

func TestManager_StartWithoutDispatcher(t *testing.T) {
	m := NewManager(persistence.NewMemoryTaskStore(), nil)
	task, err := m.Create(context.Background(), "goal", nil)
	require.NoError(t, err)
	_, err = m.Start(context.Background(), task.ID)
	assert.ErrorIs(t, err, ErrNoDispatcher)
}

func TestManager_DispatchFailureMarksError(t *testing.T) {
	m, d := newTestManager(t)
	d.err = errors.New("pool is full")
	ctx := context.Background()

	_, err := m.Submit(ctx, "goal", nil)
	require.Error(t, err)

	task, err := m.Get(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusError, task.Status)
	assert.Contains(t, task.StatusReason, "pool is full")
}

func TestManager_ReporterFlow(t *testing.T) {
	metrics := &countingMetrics{}
	m, _ := newTestManager(t, WithMetrics(metrics))
	ctx := context.Background()

	task, err := m.Submit(ctx, "goal", nil)
	require.NoError(t, err)
	require.NoError(t, m.Running(ctx, task.ID))
	assert.False(t, m.ShouldStop(ctx, task.ID))
	require.NoError(t, m.Completed(ctx, task.ID, "done"))

	got, err := m.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusCompleted, got.Status)
	assert.Equal(t, "done", got.Result)
	assert.Nil(t, got.FailedActionContext)

	assert.Equal(t, []string{">created", "created>queued", "queued>running", "running>completed"}, metrics.edges)
}

func TestManager_IllegalTransition(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	task, err := m.Submit(ctx, "goal", nil)
	require.NoError(t, err)

	err = m.Completed(ctx, task.ID, "too early")
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.False(t, errors.Is(err, loop.ErrStopped))

	got, _ := m.Get(ctx, task.ID)
	assert.Equal(t, persistence.StatusQueued, got.Status)
}

func TestManager_Stop(t *testing.T) {
	m, d := newTestManager(t)
	ctx := context.Background()

	task, err := m.Submit(ctx, "goal", nil)
	require.NoError(t, err)
	require.NoError(t, m.Running(ctx, task.ID))

	stopped, err := m.Stop(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusStopped, stopped.Status)
	assert.Equal(t, []string{task.ID}, d.cancels)
	assert.True(t, m.ShouldStop(ctx, task.ID))

	t.Run("late loop callbacks are refused quietly", func(t *testing.T) {
		err := m.Completed(ctx, task.ID, "late")
		assert.ErrorIs(t, err, loop.ErrStopped)
		err = m.NeedsIntervention(ctx, task.ID, "late", nil)
		assert.ErrorIs(t, err, loop.ErrStopped)

		got, _ := m.Get(ctx, task.ID)
		assert.Equal(t, persistence.StatusStopped, got.Status)
		assert.Empty(t, got.Result)
	})

	t.Run("terminal task is returned unchanged", func(t *testing.T) {
		again, err := m.Stop(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, persistence.StatusStopped, again.Status)
		assert.Len(t, d.cancels, 1)
	})

	t.Run("unknown task", func(t *testing.T) {
		_, err := m.Stop(ctx, "missing")
		assert.ErrorIs(t, err, persistence.ErrNotFound)
		assert.True(t, m.ShouldStop(ctx, "missing"))
	})
}

func TestManager_StopFromHumanIntervention(t *testing.T) {
	m, _ := newTestManager(t)
	task := parkForOperator(t, m, "ws://chrome:9222/devtools/browser/1")

	stopped, err := m.Stop(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusStopped, stopped.Status)
	assert.Nil(t, stopped.FailedActionContext)
}

func TestManager_Resume(t *testing.T) {
	m, d := newTestManager(t)
	ctx := context.Background()
	endpoint := "ws://chrome:9222/devtools/browser/1"
	task := parkForOperator(t, m, endpoint)
	require.Equal(t, persistence.StatusHumanIntervention, task.Status)
	require.Equal(t, endpoint, task.ResumeEndpoint())

	resumed, err := m.Resume(ctx, task.ID, map[string]any{"action": "click", "element_id": "4"})
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusQueued, resumed.Status)
	assert.Nil(t, resumed.FailedActionContext)
	assert.Equal(t, 1, resumed.ResumeCount)
	assert.Equal(t, "log in", resumed.Goal)
	assert.Contains(t, resumed.ActiveGoal, `"log in"`)
	assert.Contains(t, resumed.ActiveGoal, "click")

	p := d.last()
	assert.Equal(t, []string{endpoint}, p.InitialBrowserEndpoints)
	assert.Equal(t, resumed.ActiveGoal, p.Goal)
}

func TestManager_ResumeRejected(t *testing.T) {
	ctx := context.Background()

	t.Run("not waiting for an operator", func(t *testing.T) {
		m, d := newTestManager(t)
		task, err := m.Submit(ctx, "goal", nil)
		require.NoError(t, err)

		_, err = m.Resume(ctx, task.ID, nil)
		assert.ErrorIs(t, err, ErrResumeRejected)
		got, _ := m.Get(ctx, task.ID)
		assert.Equal(t, persistence.StatusQueued, got.Status)
		assert.Len(t, d.payloads, 1)
	})

	t.Run("no recorded session", func(t *testing.T) {
		m, d := newTestManager(t)
		task := parkForOperator(t, m, "")

		_, err := m.Resume(ctx, task.ID, map[string]any{"action": "think", "thought": "ok"})
		assert.ErrorIs(t, err, ErrResumeRejected)
		got, _ := m.Get(ctx, task.ID)
		assert.Equal(t, persistence.StatusHumanIntervention, got.Status)
		assert.NotNil(t, got.FailedActionContext)
		assert.Equal(t, 0, got.ResumeCount)
		assert.Len(t, d.payloads, 1)
	})

	t.Run("unknown task", func(t *testing.T) {
		m, _ := newTestManager(t)
		_, err := m.Resume(ctx, "missing", nil)
		assert.ErrorIs(t, err, persistence.ErrNotFound)
	})
}

func TestManager_NeedsInterventionAlwaysRecordsContext(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	task, err := m.Submit(ctx, "goal", nil)
	require.NoError(t, err)
	require.NoError(t, m.Running(ctx, task.ID))
	require.NoError(t, m.NeedsIntervention(ctx, task.ID, "stuck", nil))

	got, _ := m.Get(ctx, task.ID)
	assert.NotNil(t, got.FailedActionContext)
	assert.Equal(t, "", got.ResumeEndpoint())
}

func TestManager_PublishesTransitions(t *testing.T) {
	b := NewBroadcaster(8)
	defer b.Close()
	m, _ := newTestManager(t, WithBroadcaster(b))
	ctx := context.Background()

	task, err := m.Create(ctx, "goal", nil)
	require.NoError(t, err)
	events, cancel := b.Subscribe(task.ID)
	defer cancel()

	_, err = m.Start(ctx, task.ID)
	require.NoError(t, err)
	require.NoError(t, m.Running(ctx, task.ID))
	require.NoError(t, m.Failed(ctx, task.ID, "boom"))

	seen := testutil.CollectStatuses(t, events, 3, time.Second)
	assert.Equal(t, []persistence.TaskStatus{
		persistence.StatusQueued, persistence.StatusRunning, persistence.StatusError,
	}, seen)
}

func TestDeriveGoal(t *testing.T) {
	goal := DeriveGoal("book a table", map[string]any{"action": "type", "element_id": 3, "text": "2"})
	assert.Contains(t, goal, `"book a table"`)
	assert.Contains(t, goal, "type")

	goal = DeriveGoal("book a table", map[string]any{"note": "captcha solved"})
	assert.Contains(t, goal, "captcha solved")

	goal = DeriveGoal("book a table", nil)
	assert.Contains(t, goal, "carry on")
}

// 随机操作序列下的不变量：failed_action_context 仅在 human_intervention_required 时存在，
// 终态不再变化。
func TestManager_StateMachineProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		m := NewManager(persistence.NewMemoryTaskStore(), zap.NewNop())
		m.SetDispatcher(&fakeDispatcher{})
		ctx := context.Background()

		task, err := m.Create(ctx, "goal", nil)
		if err != nil {
			rt.Fatalf("create: %v", err)
		}
		id := task.ID
		var terminal persistence.TaskStatus

		rt.Repeat(map[string]func(*rapid.T){
			"start":   func(*rapid.T) { _, _ = m.Start(ctx, id) },
			"running": func(*rapid.T) { _ = m.Running(ctx, id) },
			"complete": func(*rapid.T) {
				_ = m.Completed(ctx, id, "ok")
			},
			"fail": func(*rapid.T) { _ = m.Failed(ctx, id, "boom") },
			"intervene": func(t *rapid.T) {
				ep := rapid.SampledFrom([]string{"", "ws://x"}).Draw(t, "endpoint")
				_ = m.NeedsIntervention(ctx, id, "help", map[string]any{"browser_endpoint_url": ep})
			},
			"resume": func(*rapid.T) { _, _ = m.Resume(ctx, id, nil) },
			"stop":   func(*rapid.T) { _, _ = m.Stop(ctx, id) },
			"": func(t *rapid.T) {
				got, err := m.Get(ctx, id)
				if err != nil {
					t.Fatalf("get: %v", err)
				}
				if !got.Status.Valid() {
					t.Fatalf("invalid status %q", got.Status)
				}
				if (got.Status == persistence.StatusHumanIntervention) != (got.FailedActionContext != nil) {
					t.Fatalf("status %s with failed_action_context %v", got.Status, got.FailedActionContext)
				}
				if terminal != "" && got.Status != terminal {
					t.Fatalf("terminal %s changed to %s", terminal, got.Status)
				}
				if got.Status.IsTerminal() {
					terminal = got.Status
				}
			},
		})
	})
}
