// Copyright (c) Nexus Authors.
// Licensed under the MIT License.

/*
包 workshop 实现多智能体研讨的编排引擎。

# 概述

研讨（workshop）是一个后台循环：按发言顺序轮流挑选 Agent，为其合成本轮
系统指令，调用 llm.CompletionProvider 生成回复，并把回复原子地追加到会话。
循环在轮次用尽、被停止、会话被删除或补全失败时结束，结束时总会清除运行
标志。

# 核心组件

  - TurnSequence / AgentAt: 纯函数，计算循环发言顺序。DUAL 模式下先手
    Agent 移到最前。
  - BuildDirective: 按会话模式（MULTI 圆桌、DUAL 辩论、DUAL 角色扮演、
    默认）生成本轮指令。
  - CancellationToken: 轮询式取消信号。默认实现每轮从会话存储读取最新的
    运行标志与 RunID。
  - Orchestrator: StartWorkshop、StopGeneration、SendUserMessage 以及
    运行状态查询。

# 取消语义

停止只清除运行标志，不中断已发出的补全调用；该调用的结果仍会写入，
循环在下一轮检查点退出。每次启动生成新的 RunID，只有持有 RunID 的
运行才能追加消息或清除标志，因此停止后立即重启不会出现两个循环交错写入。

# 使用方式

	orch := workshop.NewOrchestrator(sessions, agents, provider, workshop.DefaultConfig(),
		workshop.WithLogger(logger),
		workshop.WithMetrics(collector),
	)
	defer orch.Close()

	status, err := orch.StartWorkshop(ctx, sessionID)
*/
package workshop
