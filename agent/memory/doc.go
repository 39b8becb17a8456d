// Copyright (c) webpilot Authors.
// Licensed under the MIT License.

/*
包 memory 提供经验记忆：两个互相独立的案例库，由 Experience 独占写入。

# 案例库

  - successful_scenarios：任务完成时写入目标与动作序列，
    新任务开始时按目标相似度检索，作为决策提示
  - failure_knowledge_base：恢复成功后写入失败上下文与所用策略，
    恢复分类器据此复用策略，可按 successful=true 过滤

# 实现

底层使用 chromem-go（内存或 gob 持久化目录），相似度为余弦相似度，
对外返回的 Distance = 1 - Similarity。失败记录以上下文文本的 sha256
作为 ID，重复写入只保留一条。嵌入服务失败时写入返回空 ID，
检索返回空结果，均不视为错误，仅记录 warn 日志。
*/
package memory
