// Copyright (c) webpilot Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖
HTTP、推理、任务与控制循环、缓存与数据库几个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，所有指标按 namespace 隔离。Collector 同时实现
decision.Observer、recovery.Observer、loop.Metrics、lifecycle.Metrics
与 embedding.CacheObserver，组装时直接注入各组件。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、请求/响应体大小，
    状态码归类为 2xx/3xx/4xx/5xx。
  - 推理指标：按 op（decide/classify）与结果统计调用次数与耗时。
  - 任务指标：状态转换计数，以及本进程观察到的各状态任务数。
  - 循环指标：按类型统计动作执行结果，循环终止原因、迭代数与耗时，
    失败恢复按策略/来源/裁决计数。
  - 缓存指标：嵌入向量缓存的命中与未命中。
  - 数据库指标：按 open/in_use/idle 分组的连接数，以及累计等待次数。
  - 推理结果标签区分 success、timeout、rate_limited、unauthorized 与 error。
*/
package metrics
