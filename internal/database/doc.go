/*
包 database 提供基于 GORM 的数据库接入与连接池管理，支持健康检查、
统计信息采集与事务重试。

# 概述

Open 按配置选择 postgres / mysql / sqlite（纯 Go 的 glebarez/sqlite）方言，
并把 GORM 实例交给 PoolManager 统一管理连接生命周期。会话存储的
读-改-写事务通过 WithTransactionRetry 执行。

# 核心类型

  - PoolManager：连接池管理器，持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Ping()、Stats()、Close() 等生命周期方法。
  - PoolConfig：连接池配置，包含最大空闲连接数、最大打开连接数、
    连接最大生命周期、空闲超时与健康检查间隔。
  - TransactionFunc：事务回调函数类型。

# 主要能力

  - 方言选择：Dialector / Open。
  - 健康检查：后台定时 PingContext 探活，Close 时停止。
  - 事务管理：WithTransaction 单次执行，WithTransactionRetry 在死锁、
    序列化失败、sqlite 忙等场景下指数退避重试。
*/
package database
