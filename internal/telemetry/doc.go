// Copyright (c) webpilot Authors.
// Licensed under the MIT License.

// Package telemetry 初始化 OpenTelemetry SDK（OTLP gRPC 导出 trace 与 metric）。
//
// 资源属性包含服务名、版本、实例 ID 以及进程角色（serve / worker / run），
// 便于在同一后端区分 API 进程与执行进程。遥测关闭时全局 provider 保持 noop，
// HTTP 中间件、循环执行器的 span 与指标都因此零开销。
package telemetry
