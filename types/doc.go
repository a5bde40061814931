// Copyright (c) Nexus Authors.
// Licensed under the MIT License.

/*
Package types 提供 Nexus 多智能体对话服务的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 agent/workshop、
agent/persistence、llm、api 等上层模块提供统一的领域契约。

# 核心类型

  - Agent：可配置的 AI 人格（persona、模型、温度、输出上限）
  - Session：会话聚合：模式、参与者、消息日志、轮次与运行标志
  - Message：会话消息（user / model / system），含引用记忆与诊断载荷
  - SessionType：SINGLE / DUAL / MULTI
  - DualMode：DEBATE / ROLEPLAY
  - Error / ErrorCode：结构化错误，含 HTTP 状态码与 Retryable 标记

# 主要能力

  - 会话默认值：NewSession（标题、参与者、轮次上限、背景）
  - 参与者切换：ToggleParticipant（SINGLE 替换、DUAL 满员替换第二位）
  - Context 传播：WithTraceID / WithUserID / WithRunID / WithSessionID
  - 错误工具链：AsError / IsErrorCode / IsRetryable
*/
package types
