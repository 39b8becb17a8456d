// Copyright (c) webpilot Authors.
// Licensed under the MIT License.

/*
Package main 提供 WebPilot 服务端程序入口。

# 概述

cmd/webpilot 基于 cobra 提供以下子命令：

  - serve   启动 HTTP API（任务接口、websocket 事件流、健康检查），
    dispatch.mode=local 时在本进程执行控制循环
  - worker  消费 Redis 调度队列并执行控制循环
  - run     在本进程执行单个目标，把最终任务以 JSON 输出到标准输出
  - seed    从 YAML 文件导入成功场景到经验记忆
  - migrate 管理 SQL 任务表的版本化迁移（postgres、mysql）
  - health  请求 /health 或 /ready
  - version 显示构建信息

# 中间件链

Recovery → RequestID → SecurityHeaders → OTelTracing → RequestLogger →
Metrics → CORS → Auth（X-API-Key 或 HS256 JWT）→ RateLimiter（按认证主体或 IP）。

# 配置热重载

指定 --config 时 serve 监听配置文件，日志级别与限流即时生效。
*/
package main
