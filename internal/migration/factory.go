package migration

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/BaSui01/nexus/config"
	"github.com/BaSui01/nexus/internal/database"
)

// NewMigratorFromConfig 按 database 配置打开连接并创建迁移器。
// 连接复用存储层的 GORM 方言，迁移与运行期使用同一套驱动。
func NewMigratorFromConfig(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*Migrator, error) {
	dbType, err := ParseDatabaseType(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dialector, err := database.Dialector(cfg)
	if err != nil {
		return nil, err
	}
	gdb, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	m, err := NewMigrator(Config{DatabaseType: dbType, DB: sqlDB, Logger: log})
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	return m, nil
}
