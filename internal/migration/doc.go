// Copyright (c) Nexus Authors.
// Licensed under the MIT License.

/*
包 migration 管理 sessions / messages / agents 三张表的 Schema 迁移，
支持 PostgreSQL、MySQL 与 SQLite，基于 golang-migrate 实现。

# 概述

各方言的 SQL 文件通过 embed.FS 内嵌在二进制中，列定义与
agent/persistence 的 GORM 记录保持一致。连接由 internal/database
的 GORM 方言打开，迁移与运行期共用同一套驱动。

# 核心类型

  - Migrator：封装 golang-migrate 实例，提供 Up/Down/DownAll/Steps/
    Goto/Force/Version/Status/Info/Close。ctx 取消时在当前迁移结束后停止。
  - Runner：CLI 依赖的最小操作集，便于在测试中替换。
  - CLI：nexus migrate 子命令的终端输出层。
  - Available：枚举某方言的内嵌迁移文件。

# 使用方式

	m, err := migration.NewMigratorFromConfig(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer m.Close()
	err = migration.NewCLI(m).Execute(ctx, []string{"up"})
*/
package migration
