package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/BaSui01/webpilot/internal/database"
	"github.com/BaSui01/webpilot/internal/migration"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// =============================================================================
// 🗄️ migrate 命令
// =============================================================================

func newMigrateCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the SQL task store schema (postgres, mysql)",
		Long: `Applies the versioned tasks-table migrations to store.database.
Set store.skip_auto_migrate: true so the server leaves the schema to these commands.`,
	}

	var all bool
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the last migration (or all with --all)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd.Context(), flags, cmd.OutOrStdout(), func(ctx context.Context, c *migration.CLI) error {
				return c.RunDown(ctx, all)
			})
		},
	}
	down.Flags().BoolVar(&all, "all", false, "Roll back every migration")

	cmd.AddCommand(
		migrateSubcommand(flags, "up", "Apply all pending migrations", func(ctx context.Context, c *migration.CLI) error {
			return c.RunUp(ctx)
		}),
		down,
		migrateSubcommand(flags, "version", "Print the current schema version", func(ctx context.Context, c *migration.CLI) error {
			return c.RunVersion(ctx)
		}),
		migrateSubcommand(flags, "status", "List migrations and whether they are applied", func(ctx context.Context, c *migration.CLI) error {
			return c.RunStatus(ctx)
		}),
		migrateIntCommand(flags, "steps <n>", "Apply n migrations (negative n rolls back)", func(ctx context.Context, c *migration.CLI, n int) error {
			return c.RunSteps(ctx, n)
		}),
		migrateIntCommand(flags, "goto <version>", "Migrate up or down to a version", func(ctx context.Context, c *migration.CLI, n int) error {
			if n < 0 {
				return fmt.Errorf("version must be non-negative")
			}
			return c.RunGoto(ctx, uint(n))
		}),
		migrateIntCommand(flags, "force <version>", "Set the version without running SQL (clears dirty)", func(ctx context.Context, c *migration.CLI, n int) error {
			return c.RunForce(ctx, n)
		}),
	)
	return cmd
}

type migrateFunc func(ctx context.Context, c *migration.CLI) error

func migrateSubcommand(flags *globalFlags, use, short string, fn migrateFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd.Context(), flags, cmd.OutOrStdout(), fn)
		},
	}
}

func migrateIntCommand(flags *globalFlags, use, short string, fn func(ctx context.Context, c *migration.CLI, n int) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid number %q", args[0])
			}
			return runMigrate(cmd.Context(), flags, cmd.OutOrStdout(), func(ctx context.Context, c *migration.CLI) error {
				return fn(ctx, c, n)
			})
		},
	}
}

func runMigrate(ctx context.Context, flags *globalFlags, out io.Writer, fn migrateFunc) error {
	_, cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	// 先校验驱动，sqlite 不需要打开连接
	if _, err := migration.ParseDatabaseType(cfg.Store.Database.Driver); err != nil {
		return err
	}

	cfg.Log.OutputPaths = []string{"stderr"}
	logger, _ := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	pool, err := database.Open(cfg.SQLConfig(), logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	m, err := migration.NewMigratorFromPool(pool, cfg.Store.Database.Driver, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); cerr != nil {
			logger.Debug("close migrator", zap.Error(cerr))
		}
	}()

	return fn(ctx, migration.NewCLI(m, out))
}
