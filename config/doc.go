// Copyright (c) webpilot Authors.
// Licensed under the MIT License.

/*
包 config 提供 webpilot 的配置加载、校验与文件变更重载。

# 加载顺序

默认值 → YAML 文件 → 环境变量（前缀 WEBPILOT，按嵌套字段的 env 标签拼接，
如 WEBPILOT_STORE_DATABASE_POOL_MAX_OPEN_CONNS）。切片字段使用逗号分隔。
YAML 按严格模式解码，未知字段直接报错；环境变量的解析错误会一次性全部返回。

# 核心类型

  - Config：服务、日志、Redis、任务存储、调度、推理、嵌入、记忆、浏览器、
    控制循环与遥测的完整配置；各组件配置直接复用组件包自身的类型。
  - Loader：Builder 风格加载器，WithValidator((*Config).Validate) 启用校验。
  - FileWatcher：基于 fsnotify 监听配置文件所在目录，防抖后回调。
  - Reloader：文件变更时重新加载，校验失败保留当前配置；
    serve 用它调整日志级别与限流。

# 转换

ServerManagerConfig、TaskStoreConfig、SQLConfig、RedisOptions、LoopRunnerConfig、
DecisionConfig、DispatchPoolConfig、WorkerConfig 把配置转换为各组件的参数，
组件包本身不依赖 config。
*/
package config
