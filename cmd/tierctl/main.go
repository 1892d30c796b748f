package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"storagetier/internal/app"
	"storagetier/internal/config"
	"storagetier/internal/logging"
)

type rootFlags struct {
	envFile        string
	dataDir        string
	dbBackend      string
	databaseURL    string
	catalogFile    string
	redisURL       string
	logLevel       string
	memoryBackends []string
	jsonOutput     bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "tierctl",
		Short:         "Operate the storage tiering engine",
		Long:          `Inspect storage costs, plan tier migrations and run the daily optimization pass against the shared database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	pf.StringVar(&flags.dataDir, "data-dir", "", "data directory (sqlite db); defaults to DATA_DIR")
	pf.StringVar(&flags.dbBackend, "db-backend", "", "database backend (sqlite or postgres); defaults to DB_BACKEND")
	pf.StringVar(&flags.databaseURL, "database-url", "", "postgres connection string; defaults to DATABASE_URL")
	pf.StringVar(&flags.catalogFile, "catalog", "", "YAML price catalog; defaults to CATALOG_FILE")
	pf.StringVar(&flags.redisURL, "redis-url", "", "redis URL for the daily run lock; defaults to REDIS_URL")
	pf.StringVar(&flags.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	pf.StringSliceVar(&flags.memoryBackends, "memory-backend", nil, "register an in-memory adapter under this backend name (repeatable)")
	pf.BoolVar(&flags.jsonOutput, "json", false, "print JSON instead of tables")

	rootCmd.AddCommand(
		dailyCmd(flags),
		compareCostsCmd(flags),
		statusCmd(flags),
		recommendationsCmd(flags),
		routeCmd(flags),
		processCmd(flags),
	)
	return rootCmd
}

// loadConfig merges the environment with any persistent flags the user set.
func (f *rootFlags) loadConfig(cmd *cobra.Command) (config.Config, error) {
	if f.envFile != "" {
		if err := config.LoadDotEnv(f.envFile); err != nil {
			return config.Config{}, fmt.Errorf("load %s: %w", f.envFile, err)
		}
	}
	cfg := config.FromEnv()
	pf := cmd.Flags()
	if pf.Changed("data-dir") {
		cfg.DataDir = f.dataDir
	}
	if pf.Changed("db-backend") {
		cfg.DBBackend = f.dbBackend
	}
	if pf.Changed("database-url") {
		cfg.DatabaseURL = f.databaseURL
	}
	if pf.Changed("catalog") {
		cfg.CatalogFile = f.catalogFile
	}
	if pf.Changed("redis-url") {
		cfg.RedisURL = f.redisURL
	}
	if pf.Changed("memory-backend") {
		cfg.MemoryBackends = f.memoryBackends
	}
	cfg.LogLevel = f.logLevel
	return cfg, nil
}

// withComponents builds the service graph, runs fn and tears everything down.
func (f *rootFlags) withComponents(cmd *cobra.Command, fn func(ctx context.Context, c *app.Components) error) error {
	cfg, err := f.loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.Setup(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn("close components", zap.Error(err))
		}
	}()
	return fn(ctx, c)
}
