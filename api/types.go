package api

import "github.com/BaSui01/webpilot/agent/persistence"

// =============================================================================
// 任务请求类型
// =============================================================================

// CreateTaskRequest 创建任务请求
// @Description 创建并立即调度一个浏览器任务
type CreateTaskRequest struct {
	// 自然语言目标
	Goal string `json:"goal" example:"Find the cheapest flight from Berlin to Lisbon next Friday"`
	// 远程浏览器端点（http(s) DevTools 地址或 ws(s) 地址）；为空时本地启动无头浏览器
	BrowserEndpoints []string `json:"browser_endpoints,omitempty" example:"http://chrome:9222"`
}

// ResumeTaskRequest 恢复任务请求
// @Description 操作员处理阻塞问题后恢复任务
type ResumeTaskRequest struct {
	// 操作员指令，可以是一个动作（如 {"action":"click","element_id":"12"}）；为空表示问题已由操作员解决
	Action map[string]any `json:"action,omitempty"`
}

// =============================================================================
// 任务响应类型
// =============================================================================

// Task 任务记录
type Task = persistence.Task

// TaskListResponse 任务列表
// @Description 按创建时间倒序的任务列表
type TaskListResponse struct {
	Tasks []*Task `json:"tasks"`
	Count int     `json:"count"`
}

// =============================================================================
// 错误类型
// =============================================================================

// ErrorResponse 错误响应
// @Description 统一错误响应结构
type ErrorResponse struct {
	Success bool        `json:"success" example:"false"`
	Error   ErrorDetail `json:"error"`
}

// ErrorDetail 错误详情
type ErrorDetail struct {
	// 错误码（INVALID_REQUEST、NOT_FOUND、RESUME_REJECTED 等）
	Code string `json:"code" example:"RESUME_REJECTED"`
	// 错误信息
	Message string `json:"message" example:"resume rejected: task is running, not human_intervention_required"`
}
