// Copyright (c) webpilot Authors.
// Licensed under the MIT License.

/*
包 persistence 提供任务记录的持久化存储抽象及多后端实现。

# 核心模型

  - Task: 任务记录，包含目标、状态、状态原因、结果、浏览器端点，
    以及仅在 human_intervention_required 状态下存在的 failed_action_context。
  - TaskStatus: created → queued → running → {completed, error, stopped,
    human_intervention_required}，human_intervention_required → queued（恢复）。
    CanTransition 编码全部合法边，终态没有出边。

# 核心接口

  - TaskStore: Create / Get / List / Update / Delete，外加 Ping 与 Close。
    Update 是原子的读-改-写，回调返回错误时不写入任何内容。

# 后端实现

  - Memory: 内存实现，适合开发、测试与 run 命令。
  - Redis: JSON 值 + Sorted Set 索引，WATCH/MULTI 乐观并发更新。
  - SQL: 基于 GORM（postgres / mysql / sqlite），事务内行锁更新。

通过 NewTaskStore 按配置创建实例；Redis 客户端与数据库连接池由调用方持有。
*/
package persistence
