// Package recovery 实现失败恢复状态机：
// Detected → Lookup → {Reuse, Consult} → Apply → {Continue, Halt}。
//
// 失败库中余弦距离低于阈值（默认 0.2）的成功记录直接复用其策略，
// 否则咨询决策模型。retry / refresh / go_back 继续循环并写回失败库，
// 其余策略停止循环并生成包含 browser_endpoint_url 的 failed_action_context。
package recovery
