// Copyright (c) Nexus Authors.
// Licensed under the MIT License.

/*
包 llm 定义编排引擎所依赖的补全 Provider 抽象。

# 核心接口

  - [CompletionProvider]：给定 Agent、历史消息、种子文本与本轮指令，
    返回一条生成文本。调用可能很慢或失败，引擎不会在调用中途中断它。
  - [ProviderFunc]：把普通函数适配为 Provider，便于测试与组合。

# 可观测

[InstrumentedProvider] 包装任意 Provider，为每次调用创建 OpenTelemetry span，
记录 OTel 指标，并通过 [Recorder] 把耗时与状态交给 Prometheus 收集器。

# 实现

  - llm/gemini：基于 google.golang.org/genai 的 Gemini 实现。
*/
package llm
