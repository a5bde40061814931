// Copyright (c) Nexus Authors.
// Licensed under the MIT License.

/*
包 server 提供 HTTP 服务器生命周期管理。

# 核心类型

  - Manager：封装 net/http.Server 与 net.Listener，提供 Start、Run、
    Shutdown 等生命周期方法。API 服务与 metrics 服务各用一个 Manager。
  - Config：监听地址、读写超时、空闲超时、最大请求头大小与优雅关闭超时。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行服务。
  - 阻塞运行：Run 在 ctx 结束后自动优雅关闭，适合放入 errgroup。
  - 长连接退出：请求 context 派生自 Manager 的基础 context，Shutdown
    先取消它，事件流等被劫持的连接随之结束。
  - 错误传播：监听或服务失败时 Run 返回该错误。
*/
package server
