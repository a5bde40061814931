package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/nexus/internal/migration"
)

// =============================================================================
// 🗄️ migrate 命令
// =============================================================================

// migrateArgs 是解析后的 migrate 参数
type migrateArgs struct {
	// command 传给 migration.CLI.Execute，例如 ["steps", "2"]
	command    []string
	configPath string
}

// parseMigrateArgs 解析 `<subcommand> [value] [--config path]`，
// 位置参数与 flag 的先后顺序不限
func parseMigrateArgs(args []string, stderr io.Writer) (migrateArgs, error) {
	var positional, flags []string
	for i, a := range args {
		if strings.HasPrefix(a, "-") && !isNumber(a) {
			flags = args[i:]
			break
		}
		positional = append(positional, a)
	}

	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(flags); err != nil {
		return migrateArgs{}, err
	}

	positional = append(positional, fs.Args()...)
	if len(positional) == 0 {
		return migrateArgs{}, fmt.Errorf("missing migrate subcommand")
	}
	return migrateArgs{command: positional, configPath: *configPath}, nil
}

// isNumber 区分 `steps -1` 中的负数与 flag
func isNumber(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

// runMigrate 执行数据库迁移子命令
func runMigrate(args []string) {
	if len(args) > 0 && (args[0] == "help" || args[0] == "-h" || args[0] == "--help") {
		printMigrateUsage()
		return
	}

	parsed, err := parseMigrateArgs(args, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		printMigrateUsage()
		os.Exit(1)
	}

	cfg, err := loadConfig(parsed.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	ctx := context.Background()
	m, err := migration.NewMigratorFromConfig(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("Failed to create migrator",
			zap.String("driver", cfg.Database.Driver),
			zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	defer m.Close()

	if err := migration.NewCLI(m).Execute(ctx, parsed.command); err != nil {
		logger.Error("Migration failed",
			zap.Strings("command", parsed.command),
			zap.Error(err))
		m.Close()
		logger.Sync()
		os.Exit(1)
	}
}

// printMigrateUsage 打印 migrate 帮助
func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  nexus migrate <subcommand> [value] [--config <path>]

Subcommands:
  up          Apply all pending migrations
  down        Roll back the last migration
  reset       Roll back all migrations
  steps <n>   Apply (n > 0) or roll back (n < 0) n migrations
  goto <v>    Migrate to version v
  force <v>   Force the recorded version without running migrations
  version     Show the current migration version
  status      Show the status of every migration
  help        Show this help message

The database is taken from the database section of the config file
and NEXUS_DATABASE_* environment variables.

Examples:
  nexus migrate up --config /etc/nexus/config.yaml
  nexus migrate steps -1
  nexus migrate goto 1
  nexus migrate status`)
}
