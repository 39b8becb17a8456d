// Copyright (c) webpilot Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 webpilot 测试的共享工具和辅助函数。

# 概述

testutil 为各包的单元测试提供统一的辅助能力，避免重复实现相似的
测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / AssertEventuallyEqual / WaitFor /
    WaitForChannel，用于等待任务状态推进
  - 数据工具: MustJSON / MustParseJSON / AssertJSONEqual

# 子包

  - testutil/mocks: MockSession / MockConnector（浏览器会话）、
    MockCompleter（推理后端）、MockExperience（经验记忆）、
    MockClassifier（恢复策略分类），均支持 Builder 模式与错误注入
  - testutil/fixtures: 登录页面标记与模型回复样例

# 使用示例

	ctx := testutil.TestContext(t)
	session := mocks.NewMockSession("ws://browser.test/devtools").
		WithPage(fixtures.LoginPage())
	completer := mocks.NewMockCompleter().WithResponses(fixtures.ClickReply("2"))
*/
package testutil
