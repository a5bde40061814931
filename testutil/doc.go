// Copyright (c) Nexus Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 Nexus 测试的共享工具和辅助函数。

# 核心能力

  - 会话辅助: WaitForIdle 等待运行标志清除，ModelAuthors 提取发言顺序
  - 通道辅助: WaitForChannel 带超时接收

# 子包

  - testutil/mocks: MockProvider（脚本化补全 Provider，支持阻塞与错误注入）、
    HookedSessionStore（在存储调用之间注入并发修改或故障）
  - testutil/fixtures: 预置 Agent 与各模式会话

# 使用示例

	provider := mocks.NewMockProvider().WithScript("first", "second")
	sess := testutil.WaitForIdle(t, store, "s1", time.Second)
	assert.Equal(t, []string{"b", "a"}, testutil.ModelAuthors(sess.Messages))
*/
package testutil
