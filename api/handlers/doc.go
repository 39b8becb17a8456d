// Copyright (c) webpilot Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 webpilot HTTP API 的请求处理器实现。

# 概述

handlers 包实现任务 API、任务事件流、健康检查以及统一的响应/错误处理。
所有 Handler 均遵循标准 net/http 接口，路由使用 Go 1.22 的
ServeMux 方法与路径参数模式。

# 核心类型

  - TaskHandler：任务创建、查询、列表、停止、恢复与 websocket 事件流
  - TaskService：TaskHandler 依赖的任务操作（lifecycle.Manager 实现）
  - EventSource：任务快照订阅（lifecycle.Broadcaster 实现）
  - HealthHandler：服务健康检查（/health, /healthz, /ready, /version）
  - Response：统一 JSON 响应结构（success + data + error + timestamp）
  - ResponseWriter：包装 http.ResponseWriter 以捕获状态码，支持 websocket 升级

# 错误映射

领域错误先转换为 types.Error，再由错误码决定 HTTP 状态：
任务不存在为 404，恢复被拒绝与参数错误为 400，非法状态转换为 409，
调度不可用为 503。

# 事件流

GET /api/v1/tasks/{id}/events 先推送当前快照，之后推送每次状态变更，
任务进入终态后以正常关闭码结束连接。本进程的变更来自 EventSource，
其他进程（redis worker）的变更通过定期轮询任务存储获得。
*/
package handlers
