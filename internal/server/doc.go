// Copyright (c) webpilot Authors.
// Licensed under the MIT License.

/*
包 server 管理单个 HTTP/HTTPS 监听端口：API 服务与 Prometheus 指标端口各用一个 Manager。

# 核心类型

  - Manager：封装 net/http.Server。生命周期 idle → serving → stopped 单向推进，
    Done 在服务循环退出后关闭，Err 返回异常退出的原因。
  - Config：监听地址、读写与空闲超时、请求头上限、优雅关闭超时、可选证书。

# 用法

Run 阻塞至 ctx 结束后优雅关闭，serve 与 worker 命令把多个 Manager
放进同一个 errgroup。配置证书时使用 tlsutil 的加固配置。
NewMetricsManager 只挂载 /metrics。
*/
package server
