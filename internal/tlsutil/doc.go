// Copyright (c) webpilot Authors.
// Licensed under the MIT License.

// Package tlsutil 集中管理 TLS 设置（TLS 1.2+，仅 AEAD 套件）。
//
// 使用方：API 服务端证书、Redis 客户端、推理与嵌入 HTTP 客户端，
// 以及通过 https 地址发现远程浏览器的 DevTools 请求。
package tlsutil
