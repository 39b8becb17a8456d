// Copyright (c) webpilot Authors.
// Licensed under the MIT License.

/*
包 lifecycle 管理任务的生命周期：创建、启动、停止、人工介入后的恢复。

# 核心组件

  - Manager: 任务记录的唯一写入者。所有状态变更都经过 transition，
    非法边返回 ErrIllegalTransition；同时实现 loop.Reporter，
    任务停止后循环的迟到回调返回包装了 loop.ErrStopped 的错误。
  - PoolDispatcher: 进程内调度，基于 internal/pool，每个任务持有独立的取消函数。
  - RedisDispatcher / Worker: 分布式调度，LPUSH/BRPOP 队列加 pub/sub 停止频道。
  - Broadcaster: 按任务分发状态快照，供 websocket 事件流使用。

# 恢复

Resume 仅接受 human_intervention_required 状态且记录了浏览器端点的任务，
以原目标加操作员指令派生新目标，并绑定原浏览器会话重新调度。
*/
package lifecycle
