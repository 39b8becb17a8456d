// Copyright (c) webpilot Authors.
// Licensed under the MIT License.

/*
包 database 提供基于 GORM 的数据库连接池管理，支持健康检查、
统计信息采集与事务重试。

# 核心类型

  - PoolManager：连接池管理器，持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Ping()、Stats()、Close() 等生命周期方法。
  - Config / PoolConfig：驱动、DSN 与连接池参数。
  - Open：按驱动名（postgres、mysql、sqlite）选择方言并创建 PoolManager。

# 主要能力

  - 探活：后台定时 PingContext，只在健康状态变化时记日志，Close 后退出。
  - 事务：WithTransaction 执行一次；WithTransactionRetry 按驱动错误类型
    （pgconn SQLSTATE、MySQL 错误号、SQLite 结果码）识别锁竞争，
    借助 llm/retry 的退避重试器整体重放事务。

SQL 任务存储（persistence.GormTaskStore）构建在本包之上。
*/
package database
