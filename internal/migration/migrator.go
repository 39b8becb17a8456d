package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	mdatabase "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// =============================================================================
// 📦 内嵌迁移文件
// =============================================================================

//go:embed migrations/postgres/*.sql migrations/mysql/*.sql
var migrationsFS embed.FS

// =============================================================================
// 🔧 类型定义
// =============================================================================

// DatabaseType 数据库类型
type DatabaseType string

const (
	DatabaseTypePostgres DatabaseType = "postgres"
	DatabaseTypeMySQL    DatabaseType = "mysql"
)

// ErrSQLiteUnsupported sqlite 的表结构由任务存储启动时的 AutoMigrate 管理
var ErrSQLiteUnsupported = errors.New("sqlite schema is managed by auto-migrate; versioned migrations support postgres and mysql")

// MigrationStatus 单个迁移的状态
type MigrationStatus struct {
	Version uint
	Name    string
	Applied bool
	Dirty   bool
}

// MigrationInfo 当前迁移状态摘要
type MigrationInfo struct {
	CurrentVersion    uint
	Dirty             bool
	TotalMigrations   int
	AppliedMigrations int
	PendingMigrations int
}

// Config 迁移器配置
type Config struct {
	// DatabaseType postgres 或 mysql
	DatabaseType DatabaseType
	// TableName 版本表名，默认 schema_migrations
	TableName string
	// LockTimeout 获取迁移锁的超时，默认 15s
	LockTimeout time.Duration
}

// Migrator 迁移操作集合
type Migrator interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	DownAll(ctx context.Context) error
	// Steps 正数向前迁移 n 步，负数回滚 n 步
	Steps(ctx context.Context, n int) error
	Goto(ctx context.Context, version uint) error
	// Force 只改写版本号，不执行 SQL；用于清理 dirty 状态
	Force(ctx context.Context, version int) error
	Version(ctx context.Context) (uint, bool, error)
	Status(ctx context.Context) ([]MigrationStatus, error)
	Info(ctx context.Context) (*MigrationInfo, error)
	Close() error
}

// =============================================================================
// 🗄️ DefaultMigrator
// =============================================================================

// DefaultMigrator 基于 golang-migrate 的 Migrator 实现
type DefaultMigrator struct {
	config  Config
	migrate *migrate.Migrate
	logger  *zap.Logger
}

var _ Migrator = (*DefaultMigrator)(nil)

// NewMigrator 在已有连接上创建迁移器。
// 注意 Close 会一并关闭 db（golang-migrate 的驱动持有它）。
func NewMigrator(db *sql.DB, cfg Config, logger *zap.Logger) (*DefaultMigrator, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TableName == "" {
		cfg.TableName = "schema_migrations"
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 15 * time.Second
	}

	dir, err := migrationsDir(cfg.DatabaseType)
	if err != nil {
		return nil, err
	}
	driver, err := databaseDriver(db, cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s driver: %w", cfg.DatabaseType, err)
	}
	src, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, string(cfg.DatabaseType), driver)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	m.LockTimeout = cfg.LockTimeout
	m.Log = &migrateLogger{logger: logger}

	return &DefaultMigrator{
		config:  cfg,
		migrate: m,
		logger:  logger.With(zap.String("component", "migrator")),
	}, nil
}

func databaseDriver(db *sql.DB, cfg Config) (mdatabase.Driver, error) {
	switch cfg.DatabaseType {
	case DatabaseTypePostgres:
		return postgres.WithInstance(db, &postgres.Config{MigrationsTable: cfg.TableName})
	case DatabaseTypeMySQL:
		return mysql.WithInstance(db, &mysql.Config{MigrationsTable: cfg.TableName})
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.DatabaseType)
	}
}

// apply 执行一次 golang-migrate 操作。ErrNoChange 视为成功，其余错误带上操作名。
func (m *DefaultMigrator) apply(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Debug("schema already at target", zap.String("op", op))
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration %s failed: %w", op, err)
	}
	m.logger.Info("migration applied", zap.String("op", op), zap.Duration("took", time.Since(start)))
	return nil
}

// Up 执行全部待执行迁移
func (m *DefaultMigrator) Up(ctx context.Context) error {
	return m.apply("up", m.migrate.Up)
}

// Down 回滚最近一次迁移
func (m *DefaultMigrator) Down(ctx context.Context) error {
	return m.Steps(ctx, -1)
}

// DownAll 回滚全部迁移，tasks 表会被删除
func (m *DefaultMigrator) DownAll(ctx context.Context) error {
	return m.apply("down", m.migrate.Down)
}

func (m *DefaultMigrator) Steps(ctx context.Context, n int) error {
	if n == 0 {
		return nil
	}
	return m.apply("steps", func() error { return m.migrate.Steps(n) })
}

func (m *DefaultMigrator) Goto(ctx context.Context, version uint) error {
	return m.apply("goto", func() error { return m.migrate.Migrate(version) })
}

func (m *DefaultMigrator) Force(ctx context.Context, version int) error {
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("migration force failed: %w", err)
	}
	m.logger.Warn("migration version forced", zap.Int("version", version))
	return nil
}

// Version 返回当前版本；尚未迁移时为 0
func (m *DefaultMigrator) Version(ctx context.Context) (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("read migration version: %w", err)
	}
	return version, dirty, nil
}

func (m *DefaultMigrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	files, err := availableMigrations(m.config.DatabaseType)
	if err != nil {
		return nil, err
	}
	return buildStatus(files, current, dirty), nil
}

func (m *DefaultMigrator) Info(ctx context.Context) (*MigrationInfo, error) {
	statuses, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	return summarize(statuses, current, dirty), nil
}

// Close 释放迁移器，同时关闭底层连接
func (m *DefaultMigrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	return errors.Join(sourceErr, dbErr)
}

// =============================================================================
// 🔍 内嵌迁移清单
// =============================================================================

type migrationFile struct {
	version uint
	name    string
}

func migrationsDir(dbType DatabaseType) (string, error) {
	switch dbType {
	case DatabaseTypePostgres, DatabaseTypeMySQL:
		return path.Join("migrations", string(dbType)), nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", dbType)
	}
}

// availableMigrations 通过 iofs 源驱动遍历内嵌迁移，版本升序。
// 名称取 up 文件的标识部分，如 000001_create_tasks.up.sql → create_tasks。
func availableMigrations(dbType DatabaseType) (files []migrationFile, err error) {
	dir, err := migrationsDir(dbType)
	if err != nil {
		return nil, err
	}
	src, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	defer func() { err = errors.Join(err, src.Close()) }()

	version, err := src.First()
	for err == nil {
		body, name, readErr := src.ReadUp(version)
		if readErr != nil {
			return nil, fmt.Errorf("read migration %d: %w", version, readErr)
		}
		_ = body.Close()
		files = append(files, migrationFile{version: version, name: name})
		version, err = src.Next(version)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	return files, nil
}

func buildStatus(files []migrationFile, current uint, dirty bool) []MigrationStatus {
	statuses := make([]MigrationStatus, 0, len(files))
	for _, f := range files {
		statuses = append(statuses, MigrationStatus{
			Version: f.version,
			Name:    f.name,
			Applied: f.version <= current,
			Dirty:   dirty && f.version == current,
		})
	}
	return statuses
}

func summarize(statuses []MigrationStatus, current uint, dirty bool) *MigrationInfo {
	info := &MigrationInfo{
		CurrentVersion:  current,
		Dirty:           dirty,
		TotalMigrations: len(statuses),
	}
	for _, s := range statuses {
		if s.Applied {
			info.AppliedMigrations++
		}
	}
	info.PendingMigrations = info.TotalMigrations - info.AppliedMigrations
	return info
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// ParseDatabaseType 解析驱动名；与 internal/database 接受的名字一致
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg":
		return DatabaseTypePostgres, nil
	case "mysql", "mariadb":
		return DatabaseTypeMySQL, nil
	case "sqlite", "sqlite3":
		return "", ErrSQLiteUnsupported
	default:
		return "", fmt.Errorf("unsupported database type: %s", s)
	}
}

// migrateLogger 把 golang-migrate 的日志接到 zap
type migrateLogger struct {
	logger *zap.Logger
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *migrateLogger) Verbose() bool { return false }
