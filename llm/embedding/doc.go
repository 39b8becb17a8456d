// Copyright (c) webpilot Authors.
// Licensed under the MIT License.

/*
Package embedding 提供统一的文本嵌入接口，用于经验记忆的相似度检索。

# 核心接口

  - Provider：统一嵌入接口（Embed、EmbedQuery、Name、Dimensions）
  - OpenAIProvider：基于 openai-go 的 OpenAI 兼容 /embeddings 端点，
    默认指向 Serverless 端点的 /openai/v1 路由，模型 BAAI/bge-small-en-v1.5
  - CachedProvider：以文本 sha256 为键的 LRU 缓存（golang-lru/v2），
    同一失败上下文在检索与写入时只嵌入一次

# 使用方式

	provider, err := embedding.NewOpenAIProvider(cfg, logger)
	cached, err := embedding.NewCachedProvider(provider, 1024)
	vec, err := cached.EmbedQuery(ctx, "goal: log in ...")
*/
package embedding
