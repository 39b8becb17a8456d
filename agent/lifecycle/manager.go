package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/BaSui01/webpilot/agent/action"
	"github.com/BaSui01/webpilot/agent/loop"
	"github.com/BaSui01/webpilot/agent/persistence"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrIllegalTransition is returned when a status change is not an edge
	// of the lifecycle graph.
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrResumeRejected is returned when a task cannot be resumed. The task
	// is left unchanged.
	ErrResumeRejected = errors.New("resume rejected")
	// ErrInvalidGoal is returned for an empty goal.
	ErrInvalidGoal = errors.New("goal must not be empty")
	// ErrNoDispatcher is returned by Start and Resume before SetDispatcher.
	ErrNoDispatcher = errors.New("no dispatcher configured")
)

// Dispatcher runs loop executions somewhere.
type Dispatcher interface {
	Dispatch(ctx context.Context, p loop.Payload) error
	// Cancel is a best-effort out-of-band cancellation. It reports whether
	// the signal was delivered.
	Cancel(taskID string) bool
}

// Metrics receives status transitions.
type Metrics interface {
	TaskTransition(from, to string)
}

type nopMetrics struct{}

func (nopMetrics) TaskTransition(string, string) {}

// Manager owns Task records and is the only writer of their status.
type Manager struct {
	store       persistence.TaskStore
	dispatcher  Dispatcher
	broadcaster *Broadcaster
	metrics     Metrics
	newID       func() string
	logger      *zap.Logger
}

// Option customizes a Manager.
type Option func(*Manager)

// WithBroadcaster publishes every stored transition.
func WithBroadcaster(b *Broadcaster) Option {
	return func(m *Manager) { m.broadcaster = b }
}

// WithMetrics reports transitions.
func WithMetrics(mt Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithIDGenerator replaces uuid task ids.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) { m.newID = fn }
}

// NewManager 创建任务生命周期管理器。
// Dispatcher 通过 SetDispatcher 注入，因为本地执行器本身依赖 Manager 作为 Reporter。
func NewManager(store persistence.TaskStore, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:   store,
		metrics: nopMetrics{},
		newID:   func() string { return uuid.New().String() },
		logger:  logger.With(zap.String("component", "lifecycle")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetDispatcher must be called before Start or Resume.
func (m *Manager) SetDispatcher(d Dispatcher) {
	m.dispatcher = d
}

// Store returns the underlying task store.
func (m *Manager) Store() persistence.TaskStore {
	return m.store
}

// =============================================================================
// 🎯 外部操作
// =============================================================================

// Create persists a new task in status created.
func (m *Manager) Create(ctx context.Context, goal string, endpoints []string) (*persistence.Task, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return nil, ErrInvalidGoal
	}
	clean := make([]string, 0, len(endpoints))
	for _, e := range endpoints {
		if e = strings.TrimSpace(e); e != "" {
			clean = append(clean, e)
		}
	}

	task := &persistence.Task{
		ID:               m.newID(),
		Goal:             goal,
		Status:           persistence.StatusCreated,
		BrowserEndpoints: clean,
		ActiveGoal:       goal,
	}
	if err := m.store.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	m.metrics.TaskTransition("", string(persistence.StatusCreated))
	m.publish(task)
	m.logger.Info("task created", zap.String("task_id", task.ID), zap.Int("endpoints", len(clean)))
	return task.Clone(), nil
}

// Start moves a created task to queued and dispatches its loop. A failed
// dispatch moves the task to error.
func (m *Manager) Start(ctx context.Context, id string) (*persistence.Task, error) {
	if m.dispatcher == nil {
		return nil, ErrNoDispatcher
	}
	task, err := m.transition(ctx, id, persistence.StatusQueued, nil)
	if err != nil {
		return nil, err
	}
	return m.dispatch(ctx, task, loop.Payload{
		TaskID:                  task.ID,
		Goal:                    task.ActiveGoal,
		InitialBrowserEndpoints: task.BrowserEndpoints,
	})
}

// Submit is Create followed by Start.
func (m *Manager) Submit(ctx context.Context, goal string, endpoints []string) (*persistence.Task, error) {
	task, err := m.Create(ctx, goal, endpoints)
	if err != nil {
		return nil, err
	}
	return m.Start(ctx, task.ID)
}

// Get returns the task or persistence.ErrNotFound.
func (m *Manager) Get(ctx context.Context, id string) (*persistence.Task, error) {
	return m.store.Get(ctx, id)
}

// List returns tasks newest first.
func (m *Manager) List(ctx context.Context, filter persistence.TaskFilter) ([]*persistence.Task, error) {
	return m.store.List(ctx, filter)
}

// Stop persists status stopped, then signals the dispatcher. A task that
// is already terminal is returned unchanged. The loop observes the stop at
// its next iteration boundary; reports from an interrupted step are
// refused with loop.ErrStopped.
func (m *Manager) Stop(ctx context.Context, id string) (*persistence.Task, error) {
	task, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() {
		return task, nil
	}

	// 先落盘 stopped 再取消，否则被中断的循环会抢先写入 error
	stopped, err := m.transition(ctx, id, persistence.StatusStopped, func(t *persistence.Task) {
		t.StatusReason = "stopped by operator"
	})
	if errors.Is(err, ErrIllegalTransition) {
		// 并发下任务已进入终态
		return m.store.Get(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	delivered := false
	if m.dispatcher != nil {
		delivered = m.dispatcher.Cancel(id)
	}
	m.logger.Info("task stopped", zap.String("task_id", id), zap.Bool("cancel_delivered", delivered))
	return stopped, nil
}

// Resume re-dispatches a task waiting for an operator. It is accepted only
// in status human_intervention_required with a recorded browser endpoint;
// otherwise ErrResumeRejected is returned and nothing changes.
func (m *Manager) Resume(ctx context.Context, id string, operatorAction map[string]any) (*persistence.Task, error) {
	if m.dispatcher == nil {
		return nil, ErrNoDispatcher
	}

	var endpoint string
	var from persistence.TaskStatus
	task, err := m.store.Update(ctx, id, func(t *persistence.Task) error {
		from = t.Status
		if t.Status != persistence.StatusHumanIntervention {
			return fmt.Errorf("%w: task is %s, not %s", ErrResumeRejected, t.Status, persistence.StatusHumanIntervention)
		}
		endpoint = t.ResumeEndpoint()
		if endpoint == "" {
			return fmt.Errorf("%w: no browser session recorded to resume", ErrResumeRejected)
		}
		t.Status = persistence.StatusQueued
		t.FailedActionContext = nil
		t.StatusReason = "resumed by operator"
		t.ActiveGoal = DeriveGoal(t.Goal, operatorAction)
		t.ResumeCount++
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.metrics.TaskTransition(string(from), string(task.Status))
	m.publish(task)
	m.logger.Info("task resumed", zap.String("task_id", id), zap.Int("resume_count", task.ResumeCount))

	return m.dispatch(ctx, task, loop.Payload{
		TaskID:                  task.ID,
		Goal:                    task.ActiveGoal,
		InitialBrowserEndpoints: []string{endpoint},
	})
}

// DeriveGoal builds the goal of a resumed loop from the original goal and
// the operator's directive.
func DeriveGoal(goal string, operatorAction map[string]any) string {
	return fmt.Sprintf("Continue the goal %q. Operator directive: %s", goal, directive(operatorAction))
}

func directive(operatorAction map[string]any) string {
	if len(operatorAction) == 0 {
		return "the operator resolved the blocking problem; carry on"
	}
	raw, err := json.Marshal(operatorAction)
	if err != nil {
		return fmt.Sprint(operatorAction)
	}
	if a, err := action.Decode(raw); err == nil {
		return "first perform " + action.String(a) + ", then carry on"
	}
	return string(raw)
}

func (m *Manager) dispatch(ctx context.Context, task *persistence.Task, p loop.Payload) (*persistence.Task, error) {
	if err := m.dispatcher.Dispatch(ctx, p); err != nil {
		m.logger.Error("dispatch failed", zap.String("task_id", task.ID), zap.Error(err))
		reason := "dispatch failed: " + err.Error()
		if _, terr := m.transition(context.WithoutCancel(ctx), task.ID, persistence.StatusError, func(t *persistence.Task) {
			t.StatusReason = reason
		}); terr != nil {
			m.logger.Warn("could not record dispatch failure", zap.String("task_id", task.ID), zap.Error(terr))
		}
		return nil, fmt.Errorf("dispatch task %s: %w", task.ID, err)
	}
	return task, nil
}

// =============================================================================
// 🔄 loop.Reporter 实现
// =============================================================================

// Running moves a queued task to running.
func (m *Manager) Running(ctx context.Context, taskID string) error {
	_, err := m.transition(ctx, taskID, persistence.StatusRunning, func(t *persistence.Task) {
		t.StatusReason = ""
	})
	return err
}

// Completed records the final result.
func (m *Manager) Completed(ctx context.Context, taskID, result string) error {
	_, err := m.transition(ctx, taskID, persistence.StatusCompleted, func(t *persistence.Task) {
		t.Result = result
		t.StatusReason = ""
	})
	return err
}

// Failed records an unrecoverable error.
func (m *Manager) Failed(ctx context.Context, taskID, reason string) error {
	_, err := m.transition(ctx, taskID, persistence.StatusError, func(t *persistence.Task) {
		t.StatusReason = reason
	})
	return err
}

// NeedsIntervention parks the task for an operator.
func (m *Manager) NeedsIntervention(ctx context.Context, taskID, reason string, failedCtx map[string]any) error {
	if failedCtx == nil {
		failedCtx = map[string]any{"browser_endpoint_url": ""}
	}
	_, err := m.transition(ctx, taskID, persistence.StatusHumanIntervention, func(t *persistence.Task) {
		t.StatusReason = reason
		t.FailedActionContext = failedCtx
	})
	return err
}

// ShouldStop reports whether the task was stopped or no longer exists.
func (m *Manager) ShouldStop(ctx context.Context, taskID string) bool {
	task, err := m.store.Get(ctx, taskID)
	if errors.Is(err, persistence.ErrNotFound) {
		return true
	}
	if err != nil {
		m.logger.Warn("stop check failed", zap.String("task_id", taskID), zap.Error(err))
		return false
	}
	return task.Status == persistence.StatusStopped
}

var _ loop.Reporter = (*Manager)(nil)

// =============================================================================
// 内部
// =============================================================================

// transition applies one edge atomically. failed_action_context is cleared
// whenever the target is not human_intervention_required. A refused change
// on a stopped task wraps loop.ErrStopped so that the loop ends quietly.
func (m *Manager) transition(ctx context.Context, id string, to persistence.TaskStatus, mutate func(*persistence.Task)) (*persistence.Task, error) {
	var from persistence.TaskStatus
	task, err := m.store.Update(ctx, id, func(t *persistence.Task) error {
		from = t.Status
		if !persistence.CanTransition(t.Status, to) {
			if t.Status == persistence.StatusStopped {
				return fmt.Errorf("%w: %w: %s -> %s", loop.ErrStopped, ErrIllegalTransition, t.Status, to)
			}
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, t.Status, to)
		}
		t.Status = to
		if to != persistence.StatusHumanIntervention {
			t.FailedActionContext = nil
		}
		if mutate != nil {
			mutate(t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.metrics.TaskTransition(string(from), string(to))
	m.publish(task)
	m.logger.Debug("task transition",
		zap.String("task_id", id), zap.String("from", string(from)), zap.String("to", string(to)))
	return task, nil
}

func (m *Manager) publish(task *persistence.Task) {
	if m.broadcaster != nil {
		m.broadcaster.Publish(task)
	}
}
