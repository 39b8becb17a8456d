package migration

import (
	"fmt"

	"github.com/BaSui01/webpilot/internal/database"
	"go.uber.org/zap"
)

// NewMigratorFromPool 在任务存储的连接池上创建迁移器。
// driver 取自 store.database.driver；sqlite 返回 ErrSQLiteUnsupported。
func NewMigratorFromPool(pool *database.PoolManager, driver string, logger *zap.Logger) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(driver)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, fmt.Errorf("database pool is required")
	}
	sqlDB, err := pool.DB().DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	return NewMigrator(sqlDB, Config{DatabaseType: dbType}, logger)
}
