package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/BaSui01/webpilot/llm/retry"
	"github.com/glebarez/sqlite"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// PoolConfig 连接池参数
type PoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME"`
	// 后台探活间隔，0 关闭
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
}

// DefaultPoolConfig 任务表是小行高频更新，连接数不需要很大
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:        10,
		MaxOpenConns:        100,
		ConnMaxLifetime:     time.Hour,
		ConnMaxIdleTime:     10 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

// Validate 校验连接池参数
func (c PoolConfig) Validate() error {
	switch {
	case c.MaxOpenConns <= 0:
		return fmt.Errorf("max_open_conns must be positive")
	case c.MaxIdleConns <= 0:
		return fmt.Errorf("max_idle_conns must be positive")
	case c.MaxIdleConns > c.MaxOpenConns:
		return fmt.Errorf("max_idle_conns (%d) exceeds max_open_conns (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	return nil
}

// Config SQL 任务存储的连接配置
type Config struct {
	// postgres / mysql / sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// sqlite 可用 ":memory:" 或文件路径
	DSN  string     `yaml:"dsn" env:"DSN"`
	Pool PoolConfig `yaml:"pool" env:"POOL"`
}

// Dialector 按驱动名选择 GORM 方言
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql":
		return postgres.Open(dsn), nil
	case "mysql":
		return gormmysql.Open(dsn), nil
	case "sqlite", "sqlite3":
		return sqlite.Open(dsn), nil
	case "":
		return nil, fmt.Errorf("database driver not configured")
	}
	return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, mysql, sqlite)", driver)
}

// Open 连接数据库并包装为 PoolManager
func Open(cfg Config, logger *zap.Logger) (*PoolManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialector, err := Dialector(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Driver, err)
	}
	return NewPoolManager(db, cfg.Pool, logger)
}

// =============================================================================
// 🗄️ PoolManager
// =============================================================================

// PoolManager 持有 GORM 实例与底层 sql.DB，负责探活与事务重试
type PoolManager struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	config PoolConfig
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewPoolManager 应用连接池参数；零值保持驱动默认
func NewPoolManager(db *gorm.DB, config PoolConfig, logger *zap.Logger) (*PoolManager, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	pm := &PoolManager{
		db:     db,
		sqlDB:  sqlDB,
		config: config,
		logger: logger.With(zap.String("component", "db_pool"), zap.String("dialect", db.Dialector.Name())),
		done:   make(chan struct{}),
	}
	if config.HealthCheckInterval > 0 {
		go pm.monitor(config.HealthCheckInterval)
	}
	pm.logger.Info("database pool ready",
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("max_idle_conns", config.MaxIdleConns),
	)
	return pm, nil
}

// DB 返回 GORM 实例
func (pm *PoolManager) DB() *gorm.DB {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.db
}

// Dialect 返回方言名（postgres / mysql / sqlite）
func (pm *PoolManager) Dialect() string {
	return pm.db.Dialector.Name()
}

// Ping 就绪检查使用
func (pm *PoolManager) Ping(ctx context.Context) error {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	if pm.closed {
		return fmt.Errorf("pool is closed")
	}
	return pm.sqlDB.PingContext(ctx)
}

// Stats 底层连接池统计
func (pm *PoolManager) Stats() sql.DBStats {
	return pm.sqlDB.Stats()
}

// Close 停止探活并关闭连接；可重复调用
func (pm *PoolManager) Close() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.closed {
		return nil
	}
	pm.closed = true
	close(pm.done)
	pm.logger.Info("closing database pool")
	return pm.sqlDB.Close()
}

// monitor 只在健康状态变化时记日志
func (pm *PoolManager) monitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	healthy := true
	for {
		select {
		case <-pm.done:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := pm.Ping(ctx)
		cancel()

		switch {
		case err != nil && healthy:
			pm.logger.Error("database unreachable", zap.Error(err))
		case err == nil && !healthy:
			stats := pm.Stats()
			pm.logger.Info("database reachable again",
				zap.Int("open", stats.OpenConnections),
				zap.Int("in_use", stats.InUse),
			)
		}
		healthy = err == nil
	}
}

// =============================================================================
// 🔄 事务
// =============================================================================

// TransactionFunc 在事务内执行；返回错误即回滚
type TransactionFunc func(tx *gorm.DB) error

// WithTransaction 执行一次事务
func (pm *PoolManager) WithTransaction(ctx context.Context, fn TransactionFunc) error {
	pm.mu.RLock()
	closed, db := pm.closed, pm.db
	pm.mu.RUnlock()
	if closed {
		return fmt.Errorf("pool is closed")
	}
	return db.WithContext(ctx).Transaction(fn)
}

// txRetryPolicy 锁竞争的退避参数，attempts 决定 MaxRetries
func txRetryPolicy(attempts int) retry.Policy {
	return retry.Policy{
		MaxRetries:   attempts - 1,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
		Jitter:       true,
	}
}

// WithTransactionRetry 最多执行 attempts 次事务。只有锁竞争类错误
// （死锁、序列化失败、锁等待超时、SQLite busy、坏连接）会重试，
// fn 返回的业务错误原样返回。
func (pm *PoolManager) WithTransactionRetry(ctx context.Context, attempts int, fn TransactionFunc) error {
	if attempts <= 0 {
		attempts = 1
	}
	retryer := retry.NewBackoffRetryer(txRetryPolicy(attempts), pm.logger)
	return retryer.Do(ctx, func() error {
		err := pm.WithTransaction(ctx, fn)
		if isContention(err) {
			return retry.WrapRetryable(err)
		}
		return err
	})
}

// PostgreSQL SQLSTATE
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

// MySQL 错误号
const (
	myLockWaitTimeout = 1205
	myDeadlock        = 1213
)

// SQLite 结果码
const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

// isContention 判断错误是否值得整体重放事务
func isContention(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return true
		}
		return false
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == myDeadlock || myErr.Number == myLockWaitTimeout
	}

	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		// sqlite 扩展码的低 8 位是主码
		switch coded.Code() & 0xff {
		case sqliteBusy, sqliteLocked:
			return true
		}
	}

	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	// 部分驱动只返回文本
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "deadlock detected")
}
