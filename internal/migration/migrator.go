package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// =============================================================================
// 📦 内嵌迁移文件
// =============================================================================

//go:embed migrations/postgres/*.sql migrations/mysql/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// DefaultTableName 版本表名
const DefaultTableName = "schema_migrations"

// DatabaseType 数据库方言
type DatabaseType string

const (
	DatabaseTypePostgres DatabaseType = "postgres"
	DatabaseTypeMySQL    DatabaseType = "mysql"
	DatabaseTypeSQLite   DatabaseType = "sqlite"
)

// ParseDatabaseType 解析驱动名，兼容 postgresql / sqlite3 等别名
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg":
		return DatabaseTypePostgres, nil
	case "mysql", "mariadb":
		return DatabaseTypeMySQL, nil
	case "sqlite", "sqlite3":
		return DatabaseTypeSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", s)
	}
}

// Dir 返回方言在内嵌文件系统中的目录
func (t DatabaseType) Dir() string {
	return path.Join("migrations", string(t))
}

// MigrationStatus 单个迁移的状态
type MigrationStatus struct {
	Version uint
	Name    string
	Applied bool
	Dirty   bool
}

// MigrationInfo 当前迁移进度汇总
type MigrationInfo struct {
	CurrentVersion    uint
	Dirty             bool
	TotalMigrations   int
	AppliedMigrations int
	PendingMigrations int
}

// Config 迁移器配置
type Config struct {
	DatabaseType DatabaseType

	// DB 已打开的连接，Close 时一并关闭
	DB *sql.DB

	// TableName 版本表名，默认 schema_migrations
	TableName string

	// LockTimeout 获取迁移锁的超时
	LockTimeout time.Duration

	Logger *zap.Logger
}

// =============================================================================
// 🔧 Migrator
// =============================================================================

// Migrator 基于 golang-migrate 执行内嵌 SQL 迁移
type Migrator struct {
	dbType  DatabaseType
	migrate *migrate.Migrate
	logger  *zap.Logger
}

// NewMigrator 用已打开的连接构建迁移器
func NewMigrator(cfg Config) (*Migrator, error) {
	if cfg.DB == nil {
		return nil, errors.New("database connection is required")
	}
	if cfg.TableName == "" {
		cfg.TableName = DefaultTableName
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	driver, err := databaseDriver(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, cfg.DatabaseType.Dir())
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(cfg.DatabaseType), driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.LockTimeout = cfg.LockTimeout

	logger := cfg.Logger.With(zap.String("component", "migration"), zap.String("dialect", string(cfg.DatabaseType)))
	m.Log = migrateLogger{logger: logger}

	return &Migrator{
		dbType:  cfg.DatabaseType,
		migrate: m,
		logger:  logger,
	}, nil
}

func databaseDriver(cfg Config) (database.Driver, error) {
	switch cfg.DatabaseType {
	case DatabaseTypePostgres:
		return postgres.WithInstance(cfg.DB, &postgres.Config{MigrationsTable: cfg.TableName})
	case DatabaseTypeMySQL:
		return mysql.WithInstance(cfg.DB, &mysql.Config{MigrationsTable: cfg.TableName})
	case DatabaseTypeSQLite:
		return sqlite3.WithInstance(cfg.DB, &sqlite3.Config{MigrationsTable: cfg.TableName})
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.DatabaseType)
	}
}

// run 执行一次迁移操作；ctx 取消时请求 golang-migrate 在当前迁移结束后停止
func (m *Migrator) run(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			select {
			case m.migrate.GracefulStop <- true:
			default:
			}
		case <-done:
		}
	}()

	start := time.Now()
	err := fn()
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Info("no change", zap.String("op", op))
		return nil
	}
	if err != nil {
		m.logger.Error("migration failed", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("migration %s failed: %w", op, err)
	}
	m.logger.Info("migration complete", zap.String("op", op), zap.Duration("duration", time.Since(start)))
	return nil
}

// Up 应用全部待执行迁移
func (m *Migrator) Up(ctx context.Context) error {
	return m.run(ctx, "up", m.migrate.Up)
}

// Down 回滚最近一次迁移
func (m *Migrator) Down(ctx context.Context) error {
	return m.run(ctx, "down", func() error { return m.migrate.Steps(-1) })
}

// DownAll 回滚全部迁移
func (m *Migrator) DownAll(ctx context.Context) error {
	return m.run(ctx, "down all", m.migrate.Down)
}

// Steps n>0 前进 n 步，n<0 回滚 |n| 步
func (m *Migrator) Steps(ctx context.Context, n int) error {
	return m.run(ctx, "steps", func() error { return m.migrate.Steps(n) })
}

// Goto 迁移到指定版本
func (m *Migrator) Goto(ctx context.Context, version uint) error {
	return m.run(ctx, "goto", func() error { return m.migrate.Migrate(version) })
}

// Force 强制设置版本号，不执行 SQL，用于修复 dirty 状态
func (m *Migrator) Force(ctx context.Context, version int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("migration force failed: %w", err)
	}
	m.logger.Warn("version forced", zap.Int("version", version))
	return nil
}

// Version 返回当前版本；尚未迁移时返回 0
func (m *Migrator) Version(ctx context.Context) (uint, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}
	return version, dirty, nil
}

// Status 列出所有内嵌迁移及其是否已应用
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	files, err := Available(m.dbType)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(files))
	for _, f := range files {
		statuses = append(statuses, MigrationStatus{
			Version: f.Version,
			Name:    f.Name,
			Applied: f.Version <= current,
			Dirty:   dirty && f.Version == current,
		})
	}
	return statuses, nil
}

// Info 汇总迁移进度
func (m *Migrator) Info(ctx context.Context) (*MigrationInfo, error) {
	statuses, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}

	applied := 0
	for _, s := range statuses {
		if s.Applied {
			applied++
		}
	}
	return &MigrationInfo{
		CurrentVersion:    current,
		Dirty:             dirty,
		TotalMigrations:   len(statuses),
		AppliedMigrations: applied,
		PendingMigrations: len(statuses) - applied,
	}, nil
}

// Close 关闭迁移源与数据库连接
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	return errors.Join(sourceErr, dbErr)
}

// =============================================================================
// 📄 迁移文件枚举
// =============================================================================

// File 一个版本的迁移（up/down 成对）
type File struct {
	Version uint
	Name    string
}

// Available 按版本升序返回某方言的内嵌迁移
func Available(dbType DatabaseType) ([]File, error) {
	entries, err := fs.ReadDir(migrationsFS, dbType.Dir())
	if err != nil {
		return nil, fmt.Errorf("no migrations for %s: %w", dbType, err)
	}

	seen := make(map[uint]bool)
	var files []File
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		version, label, ok := parseFileName(name)
		if !ok || seen[version] {
			continue
		}
		seen[version] = true
		files = append(files, File{Version: version, Name: label})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	return files, nil
}

// parseFileName 解析 000001_create_agents.up.sql
func parseFileName(name string) (uint, string, bool) {
	base := strings.TrimSuffix(name, ".up.sql")
	num, label, found := strings.Cut(base, "_")
	if !found {
		return 0, "", false
	}
	v, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return uint(v), label, true
}

// migrateLogger 把 golang-migrate 的日志转到 zap
type migrateLogger struct {
	logger *zap.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrateLogger) Verbose() bool {
	return l.logger.Core().Enabled(zap.DebugLevel)
}
