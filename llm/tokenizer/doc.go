// Package tokenizer 提供 Token 计数与按预算截断，用于控制发送给推理服务的
// 页面标记长度。tiktoken 精确计数，加载失败时回退到字符估算器。
package tokenizer
