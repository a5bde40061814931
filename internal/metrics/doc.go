// Copyright (c) Nexus Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、补全调用、
研讨运行、事件流与数据库连接。

# 核心类型

  - Collector：持有 Counter、Histogram、Gauge 等向量指标。
    同时实现 llm.Recorder 与 workshop.Metrics，由 cmd/nexus 注入。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 补全指标：请求总数、耗时、Token 用量，按 provider/model 分组。
  - 研讨指标：按 kind/reason 统计结束的运行、每次运行的轮数与耗时、
    完成轮次总数、进行中的运行数。
  - 数据库指标：打开/空闲连接数 Gauge。

NewCollector 注册到默认 Registry；测试使用 NewCollectorWithRegistry
传入独立的 prometheus.Registry。
*/
package metrics
