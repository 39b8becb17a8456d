// Copyright (c) webpilot Authors.
// Licensed under the MIT License.

/*
包 browser 为控制循环提供浏览器会话：观察页面、导航、点击、输入。

# 概述

Session 代表一个由单个任务循环独占的页面。每次 Perceive 都会先在
实时 DOM 中为可交互元素写入 data-webpilot-id，再读取 HTML 并交给
Normalizer 规范化，因此决策模型看到的 id 与 Locator 能定位的元素一致。

# 核心接口

  - Session：Perceive / Navigate / Click / Type / Reload / GoBack
  - Connector：按端点打开会话，端点为空时启动本地 Headless 浏览器
  - Normalizer：基于 goquery 去除 script/style/svg 等噪声节点并编号

# 端点解析

ResolveEndpoint 支持 ws(s) 直连、http(s) 的 /json/version 探测
（回环地址改写为端点主机，便于隧道访问）以及 host:port 形式。

# 内置实现

RodConnector 与 RodSession 基于 go-rod。远程浏览器在 Close 时仅断开
连接、保持运行，以便人工介入后 resume 重新接入；本地启动的浏览器会被关闭。
*/
package browser
