// Copyright (c) webpilot Authors.
// Licensed under the MIT License.

// Package decision 将推理后端包装为控制循环的决策能力：Decide 选择下一步动作，
// Classify 为失败动作给出恢复策略。模型输出经过去除代码围栏、截取首个 JSON
// 对象和 jsonrepair 修复后再严格解码，任何异常都退化为 Think 或 human_intervention。
package decision
