// Copyright (c) webpilot Authors.
// Licensed under the MIT License.

/*
Package types 提供 webpilot 服务的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包。目前只承载结构化错误体系，
供 llm、agent、api 等上层模块统一使用。

# 核心类型

  - Error / ErrorCode：结构化错误，含 HTTP 状态码与 Retryable 标记

# 主要能力

  - 错误工具链：AsError / GetErrorCode / IsRetryable
*/
package types
