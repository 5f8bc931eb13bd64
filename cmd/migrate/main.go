// Package main manages the optimizer_states and migration_plans schema and
// prunes recorded plans past their retention.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/config"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/repository/postgres"
)

// versionTable records the applied schema version, kept apart from other
// applications sharing the database.
const versionTable = "ouracs_schema_migrations"

type options struct {
	configPath string
	source     string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the OUR-ACS plan and warm-start state schema",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("OURACS_CONFIG"), "Path to config file")
	root.PersistentFlags().StringVar(&opts.source, "source", "file://migrations", "Migration source URL")

	root.AddCommand(
		newUpCommand(opts),
		newDownCommand(opts),
		newStatusCommand(opts),
		newForceCommand(opts),
		newPruneCommand(opts),
	)
	return root
}

func newUpCommand(opts *options) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if steps < 0 {
				return fmt.Errorf("--steps must not be negative, got %d", steps)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), opts, func(m *migrate.Migrate, logger *zap.Logger) error {
				var err error
				if steps == 0 {
					err = m.Up()
				} else {
					err = m.Steps(steps)
				}
				return report(logger, "Schema upgraded", err)
			})
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "Number of migrations to apply (0 applies all)")
	return cmd
}

func newDownCommand(opts *options) *cobra.Command {
	var (
		steps int
		all   bool
	)
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if !all && steps < 1 {
				return fmt.Errorf("--steps must be at least 1, got %d", steps)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), opts, func(m *migrate.Migrate, logger *zap.Logger) error {
				if all {
					return report(logger, "Schema rolled back", m.Down())
				}
				return report(logger, "Schema rolled back", m.Steps(-steps))
			})
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back")
	cmd.Flags().BoolVar(&all, "all", false, "Roll back every migration, dropping plans and state")
	cmd.MarkFlagsMutuallyExclusive("steps", "all")
	return cmd
}

func newStatusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), opts, func(m *migrate.Migrate, logger *zap.Logger) error {
				out := cmd.OutOrStdout()
				version, dirty, err := m.Version()
				switch {
				case errors.Is(err, migrate.ErrNilVersion):
					fmt.Fprintln(out, "Version: none")
				case err != nil:
					return fmt.Errorf("failed to read schema version: %w", err)
				default:
					fmt.Fprintln(out, "Version:", version)
					fmt.Fprintln(out, "Dirty:", dirty)
				}
				return nil
			})
		},
	}
}

func newForceCommand(opts *options) *cobra.Command {
	var version int
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Mark a schema version as applied without running it",
		Long:  "Clears the dirty flag after a failed migration was repaired by hand. `force -- -1` resets to no version.",
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(1)(cmd, args); err != nil {
				return err
			}
			v, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			version = v
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), opts, func(m *migrate.Migrate, logger *zap.Logger) error {
				if err := m.Force(version); err != nil {
					return fmt.Errorf("failed to force version %d: %w", version, err)
				}
				logger.Info("Schema version forced", zap.Int("version", version))
				return nil
			})
		},
	}
}

func newPruneCommand(opts *options) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete migration plans older than the retention window",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if olderThan < 0 {
				return fmt.Errorf("--older-than must not be negative, got %s", olderThan)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			retention, err := planRetention(olderThan, cfg.DRS)
			if err != nil {
				return err
			}
			db, err := postgres.NewDB(ctx, cfg.Database, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			cutoff := time.Now().Add(-retention)
			if err := postgres.NewPlanRepository(db, logger).DeleteOld(ctx, cutoff); err != nil {
				return err
			}
			logger.Info("Pruned migration plans", zap.Time("cutoff", cutoff))
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Retention window (defaults to drs.plan_retention)")
	return cmd
}

// parseForceVersion accepts a schema version or -1.
func parseForceVersion(arg string) (int, error) {
	v, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", arg, err)
	}
	if v < -1 {
		return 0, fmt.Errorf("invalid version %d: must be -1 or a schema version", v)
	}
	return v, nil
}

// planRetention prefers the flag and falls back to the configured retention.
func planRetention(flag time.Duration, drs config.DRSConfig) (time.Duration, error) {
	if flag > 0 {
		return flag, nil
	}
	if drs.PlanRetention > 0 {
		return drs.PlanRetention, nil
	}
	return 0, errors.New("no retention: pass --older-than or set drs.plan_retention")
}

func (o *options) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// withMigrator connects to the configured database and runs fn against a
// migrator reading from opts.source.
func withMigrator(ctx context.Context, opts *options, fn func(m *migrate.Migrate, logger *zap.Logger) error) error {
	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := sql.Open("pgx", cfg.Database.URL())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	driver, err := migratepg.WithInstance(db, &migratepg.Config{MigrationsTable: versionTable})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(opts.source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()
	m.Log = &migrateLogger{logger: logger.Sugar(), verbose: logger.Core().Enabled(zapcore.DebugLevel)}

	logger.Info("Connected to database",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Name),
		zap.String("source", opts.source),
	)
	return fn(m, logger)
}

// report treats ErrNoChange as success.
func report(logger *zap.Logger, msg string, err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("Schema already at the requested version")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info(msg)
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	if cfg.Output != "" {
		zapConfig.OutputPaths = []string{cfg.Output}
	}
	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

// migrateLogger routes the migrator's progress lines through zap.
type migrateLogger struct {
	logger  *zap.SugaredLogger
	verbose bool
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Infof(format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return l.verbose
}
