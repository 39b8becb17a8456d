// Package api 定义 webpilot HTTP API 的请求与响应类型。
//
// # API 概览
//
//	POST /api/v1/tasks                 创建并调度任务
//	GET  /api/v1/tasks                 列出任务（?status=&limit=&offset=）
//	GET  /api/v1/tasks/{id}            查询任务
//	POST /api/v1/tasks/{id}/stop       停止任务
//	POST /api/v1/tasks/{id}/resume     人工介入后恢复任务
//	GET  /api/v1/tasks/{id}/events     websocket 任务快照流
//	GET  /health /healthz /ready /version
//
// # 认证
//
// 配置了 API Key 或 JWT 密钥时，/api/v1 下的路由需要认证：
//
//	X-API-Key: your-api-key
//	Authorization: Bearer <jwt>
//
// 健康检查路由始终开放。
package api
