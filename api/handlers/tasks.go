package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/webpilot/agent/lifecycle"
	"github.com/BaSui01/webpilot/agent/persistence"
	"github.com/BaSui01/webpilot/api"
	"github.com/BaSui01/webpilot/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🧭 任务 Handler
// =============================================================================

// TaskService 是 TaskHandler 依赖的任务操作，*lifecycle.Manager 实现它
type TaskService interface {
	Submit(ctx context.Context, goal string, endpoints []string) (*persistence.Task, error)
	Get(ctx context.Context, id string) (*persistence.Task, error)
	List(ctx context.Context, filter persistence.TaskFilter) ([]*persistence.Task, error)
	Stop(ctx context.Context, id string) (*persistence.Task, error)
	Resume(ctx context.Context, id string, operatorAction map[string]any) (*persistence.Task, error)
}

// EventSource 提供任务状态快照订阅，*lifecycle.Broadcaster 实现它
type EventSource interface {
	Subscribe(taskID string) (<-chan *persistence.Task, func())
}

var (
	_ TaskService = (*lifecycle.Manager)(nil)
	_ EventSource = (*lifecycle.Broadcaster)(nil)
)

// maxListLimit 单页上限
const maxListLimit = 500

// TaskHandler 任务 API 处理器
type TaskHandler struct {
	tasks  TaskService
	events EventSource
	logger *zap.Logger

	pollInterval   time.Duration
	writeTimeout   time.Duration
	originPatterns []string
}

// TaskHandlerOption 配置 TaskHandler
type TaskHandlerOption func(*TaskHandler)

// WithEventSource 设置事件来源；未设置时事件流只依赖轮询
func WithEventSource(src EventSource) TaskHandlerOption {
	return func(h *TaskHandler) { h.events = src }
}

// WithPollInterval 设置事件流轮询任务存储的间隔。
// 其他进程（redis worker）的状态变更只能通过轮询观察到。
func WithPollInterval(d time.Duration) TaskHandlerOption {
	return func(h *TaskHandler) {
		if d > 0 {
			h.pollInterval = d
		}
	}
}

// WithOriginPatterns 设置允许的 websocket 跨域来源
func WithOriginPatterns(patterns []string) TaskHandlerOption {
	return func(h *TaskHandler) { h.originPatterns = patterns }
}

// NewTaskHandler 创建任务处理器
func NewTaskHandler(tasks TaskService, logger *zap.Logger, opts ...TaskHandlerOption) *TaskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &TaskHandler{
		tasks:        tasks,
		logger:       logger.With(zap.String("component", "task_handler")),
		pollInterval: 2 * time.Second,
		writeTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register 在 mux 上注册任务路由
func (h *TaskHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/tasks", h.HandleCreate)
	mux.HandleFunc("GET /api/v1/tasks", h.HandleList)
	mux.HandleFunc("GET /api/v1/tasks/{id}", h.HandleGet)
	mux.HandleFunc("POST /api/v1/tasks/{id}/stop", h.HandleStop)
	mux.HandleFunc("POST /api/v1/tasks/{id}/resume", h.HandleResume)
	mux.HandleFunc("GET /api/v1/tasks/{id}/events", h.HandleEvents)
}

// HandleCreate 创建任务并立即调度
func (h *TaskHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.CreateTaskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	task, err := h.tasks.Submit(r.Context(), req.Goal, req.BrowserEndpoints)
	if err != nil {
		h.writeTaskError(w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/tasks/"+task.ID)
	WriteStatus(w, http.StatusCreated, task)
}

// HandleList 列出任务，支持 ?status=a,b&limit=&offset=
func (h *TaskHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTaskFilter(r)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	tasks, lerr := h.tasks.List(r.Context(), filter)
	if lerr != nil {
		h.writeTaskError(w, lerr)
		return
	}
	if tasks == nil {
		tasks = []*persistence.Task{}
	}
	WriteSuccess(w, api.TaskListResponse{Tasks: tasks, Count: len(tasks)})
}

// HandleGet 查询单个任务
func (h *TaskHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	task, err := h.tasks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeTaskError(w, err)
		return
	}
	WriteSuccess(w, task)
}

// HandleStop 停止任务；终态任务原样返回
func (h *TaskHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	task, err := h.tasks.Stop(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeTaskError(w, err)
		return
	}
	WriteSuccess(w, task)
}

// HandleResume 恢复等待人工介入的任务
func (h *TaskHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	var req api.ResumeTaskRequest
	if hasBody(r) {
		if !ValidateContentType(w, r, h.logger) {
			return
		}
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	}

	task, err := h.tasks.Resume(r.Context(), r.PathValue("id"), req.Action)
	if err != nil {
		h.writeTaskError(w, err)
		return
	}
	WriteSuccess(w, task)
}

func (h *TaskHandler) writeTaskError(w http.ResponseWriter, err error) {
	WriteError(w, toAPIError(err), h.logger)
}

func hasBody(r *http.Request) bool {
	return r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0
}

func parseTaskFilter(r *http.Request) (persistence.TaskFilter, *types.Error) {
	var filter persistence.TaskFilter
	q := r.URL.Query()

	for _, raw := range q["status"] {
		for _, v := range strings.Split(raw, ",") {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			s, err := persistence.ParseStatus(v)
			if err != nil {
				return filter, types.NewError(types.ErrInvalidRequest, err.Error()).WithCause(err)
			}
			filter.Status = append(filter.Status, s)
		}
	}

	var err *types.Error
	if filter.Limit, err = intParam(q.Get("limit"), "limit"); err != nil {
		return filter, err
	}
	if filter.Offset, err = intParam(q.Get("offset"), "offset"); err != nil {
		return filter, err
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	return filter, nil
}

func intParam(v, name string) (int, *types.Error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, types.NewError(types.ErrInvalidRequest, name+" must be a non-negative integer")
	}
	return n, nil
}
