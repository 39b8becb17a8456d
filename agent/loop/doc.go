// Copyright (c) webpilot Authors.
// Licensed under the MIT License.

// Package loop 实现单个任务的感知-决策-执行-校验控制循环。
//
// 每次迭代开始时检查停止标志，随后读取规范化页面、向决策能力请求一个动作并执行。
// finish 结束任务，think 只追加历史；browse / click / type 执行后重新感知，
// 由 Verifier 检查页面上的错误标记。执行失败或校验异常交给 Recoverer：
// Continue 进入下一次迭代，Halt 将任务转为 human_intervention_required。
//
// 状态变化全部通过 Reporter 上报，Reporter 拒绝的变化（例如任务已被停止）
// 会让循环静默结束。
package loop
