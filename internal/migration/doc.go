// Copyright (c) webpilot Authors.
// Licensed under the MIT License.

/*
包 migration 管理任务表（tasks）的版本化 Schema 迁移，基于 golang-migrate。

# 概述

迁移 SQL 通过 embed.FS 内嵌在二进制中，按方言分目录存放
（migrations/postgres、migrations/mysql），文件名遵循
golang-migrate 约定：{version}_{name}.up.sql / .down.sql。

SQLite 不在版本化迁移范围内：任务存储启动时的 GORM AutoMigrate
负责建表。PostgreSQL 与 MySQL 部署可以设置 store.skip_auto_migrate，
改由 webpilot migrate 管理表结构。

# 核心类型

  - Migrator：Up/Down/DownAll/Steps/Goto/Force/Version/Status/Info/Close。
  - DefaultMigrator：复用任务存储连接池的 *sql.DB，Close 时一并关闭。
  - NewMigratorFromPool：按 store.database.driver 选择方言。
  - CLI：格式化输出，供 webpilot migrate 子命令使用。
*/
package migration
