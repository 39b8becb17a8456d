package persistence

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// TaskStatus 任务生命周期状态
type TaskStatus string

const (
	StatusCreated           TaskStatus = "created"
	StatusQueued            TaskStatus = "queued"
	StatusRunning           TaskStatus = "running"
	StatusCompleted         TaskStatus = "completed"
	StatusError             TaskStatus = "error"
	StatusStopped           TaskStatus = "stopped"
	StatusHumanIntervention TaskStatus = "human_intervention_required"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []TaskStatus{
	StatusCreated, StatusQueued, StatusRunning, StatusCompleted,
	StatusError, StatusStopped, StatusHumanIntervention,
}

// validTransitions 定义合法的状态转换
var validTransitions = map[TaskStatus][]TaskStatus{
	StatusCreated:           {StatusQueued, StatusError, StatusStopped},
	StatusQueued:            {StatusRunning, StatusError, StatusStopped},
	StatusRunning:           {StatusCompleted, StatusError, StatusStopped, StatusHumanIntervention},
	StatusHumanIntervention: {StatusQueued, StatusStopped},
	// 终态没有出边
	StatusCompleted: {},
	StatusError:     {},
	StatusStopped:   {},
}

// CanTransition 检查状态转换是否合法
func CanTransition(from, to TaskStatus) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	return slices.Contains(allowed, to)
}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminal reports whether no further transition is possible.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusStopped
}

// ParseStatus converts a query-string value into a TaskStatus.
func ParseStatus(v string) (TaskStatus, error) {
	s := TaskStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, v)
	}
	return s, nil
}

// Task 是任务的持久化记录
type Task struct {
	ID           string     `json:"id"`
	Goal         string     `json:"goal"`
	Status       TaskStatus `json:"status"`
	StatusReason string     `json:"status_reason,omitempty"`
	// FailedActionContext 仅在 human_intervention_required 状态下存在
	FailedActionContext map[string]any `json:"failed_action_context,omitempty"`
	Result              string         `json:"result,omitempty"`
	BrowserEndpoints    []string       `json:"browser_endpoints"`
	// ActiveGoal 是当前执行使用的目标，恢复后为派生目标
	ActiveGoal  string    `json:"active_goal,omitempty"`
	ResumeCount int       `json:"resume_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Clone returns a copy that shares no slices or maps with t.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.BrowserEndpoints = slices.Clone(t.BrowserEndpoints)
	c.FailedActionContext = maps.Clone(t.FailedActionContext)
	return &c
}

// ResumeEndpoint returns the browser endpoint recorded for an operator
// takeover, or "" when there is none.
func (t *Task) ResumeEndpoint() string {
	if t.FailedActionContext == nil {
		return ""
	}
	s, _ := t.FailedActionContext["browser_endpoint_url"].(string)
	return s
}

// TaskFilter 任务查询条件
type TaskFilter struct {
	Status []TaskStatus
	// Limit 0 表示不限制
	Limit  int
	Offset int
}

func (f TaskFilter) matches(t *Task) bool {
	return len(f.Status) == 0 || slices.Contains(f.Status, t.Status)
}

// page applies Offset and Limit to tasks already in list order.
func (f TaskFilter) page(tasks []*Task) []*Task {
	if f.Offset > 0 {
		if f.Offset >= len(tasks) {
			return []*Task{}
		}
		tasks = tasks[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(tasks) {
		tasks = tasks[:f.Limit]
	}
	return tasks
}

// sortNewestFirst orders by CreatedAt descending, then ID.
func sortNewestFirst(tasks []*Task) {
	slices.SortFunc(tasks, func(a, b *Task) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
}
