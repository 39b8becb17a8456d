// Copyright (c) webpilot Authors.
// Licensed under the MIT License.

/*
Package inference 提供调用外部语言模型推理服务的后端实现。

# 核心类型

  - Completer：统一接口，输入 prompt，输出模型原始文本
  - RunPodClient：Serverless 作业 API，先 POST /run 提交，再轮询 /status/{id}；
    轮询采用带截止时间的指数退避（llm/retry.Poll），超时后尽力取消作业
  - ChatClient：OpenAI 兼容的 chat/completions 端点（openai-go）

两种后端均通过 golang.org/x/time/rate 做出站限流，错误统一映射为 types.Error。
*/
package inference
