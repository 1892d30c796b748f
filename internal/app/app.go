package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"storagetier/internal/api"
	"storagetier/internal/backend"
	"storagetier/internal/catalog"
	"storagetier/internal/config"
	"storagetier/internal/db"
	"storagetier/internal/errs"
	"storagetier/internal/metrics"
	"storagetier/internal/migration"
	"storagetier/internal/optimizer"
	"storagetier/internal/router"
	"storagetier/internal/scheduler"
	"storagetier/internal/store"
	"storagetier/internal/uploads"
	"storagetier/internal/ws"
)

const (
	defaultUploadMaxConcurrentRequests = 8
	defaultMaxConcurrentMigrations     = 5
	defaultBackendMaxAttempts          = 3
	defaultBackendCallTimeout          = 30 * time.Second
	defaultBackendMinThroughput        = 1 << 20
	defaultDailyRunAt                  = "03:00"
)

// Components is the wired service graph shared by the server and the CLI.
type Components struct {
	Config     config.Config
	Logger     *zap.Logger
	Store      *store.Store
	Catalog    *catalog.Catalog
	Registry   *backend.Registry
	Router     *router.Router
	Uploads    *uploads.Service
	Optimizer  *optimizer.Optimizer
	Migrations *migration.Service
	Scheduler  *scheduler.Scheduler
	Hub        *ws.Hub
	Metrics    *metrics.Metrics

	closers []func() error
}

// Build opens the database, initializes every configured backend and wires the services.
// Backends that fail to initialize are logged and left out; having none at all is an error.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Components, error) {
	applySafeDefaults(&cfg)
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Components{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = c.Close()
		}
	}()

	dbBackend, err := db.ParseBackend(cfg.DBBackend)
	if err != nil {
		return nil, err
	}
	dbCfg := db.Config{Backend: dbBackend, DatabaseURL: cfg.DatabaseURL}
	if dbBackend == db.BackendSQLite {
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, err
		}
		dbCfg.SQLitePath = filepath.Join(cfg.DataDir, "storagetier.db")
	}
	gormDB, err := db.Open(dbCfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, sqlDB.Close)
	if dbBackend == db.BackendSQLite {
		_ = os.Chmod(dbCfg.SQLitePath, 0o600)
	}

	c.Store, err = store.New(gormDB, store.Options{})
	if err != nil {
		return nil, err
	}

	c.Catalog = catalog.Default()
	if cfg.CatalogFile != "" {
		if c.Catalog, err = catalog.LoadFile(cfg.CatalogFile); err != nil {
			return nil, errs.Configuration("app.Build", "load catalog %s: %v", cfg.CatalogFile, err)
		}
	}

	c.Metrics = metrics.New()
	c.Hub = ws.NewHub()

	registry, buildErrs := backend.Build(ctx, cfg.Backends, backend.BuildOptions{
		Catalog:        c.Catalog,
		MemoryBackends: cfg.MemoryBackends,
		CallTimeout:    cfg.BackendCallTimeout,
		MinThroughput:  cfg.BackendMinThroughput,
		MaxAttempts:    cfg.BackendMaxAttempts,
		Logger:         logger,
		Metrics:        c.Metrics,
	})
	for _, e := range buildErrs {
		logger.Warn("storage backend excluded", zap.Error(e))
	}
	if registry.Len() == 0 {
		return nil, errs.Configuration("app.Build", "no storage backends are configured")
	}
	c.Registry = registry
	logger.Info("storage backends ready", zap.Any("backends", registry.Names()))

	c.Router = router.New(registry, c.Catalog, router.Options{
		Environment:             cfg.Environment,
		LargeFileBytes:          cfg.LargeFileBytes,
		VeryLargeFileBytes:      cfg.VeryLargeFileBytes,
		AssumedMonthlyDownloads: cfg.AssumedMonthlyDownloads,
		Logger:                  logger,
		Metrics:                 c.Metrics,
	})
	c.Uploads = uploads.NewService(uploads.Config{
		Router:        c.Router,
		Backends:      registry,
		Tracker:       c.Store,
		Logger:        logger,
		DefaultExpiry: cfg.PresignExpiry,
	})
	c.Optimizer = optimizer.New(optimizer.Config{
		Tracker: c.Store,
		Metrics: c.Store,
		Catalog: c.Catalog,
		Logger:  logger,
		Prom:    c.Metrics,
	})
	c.Migrations = migration.NewService(migration.Config{
		Store:                  c.Store,
		Tracker:                c.Store,
		Backends:               registry,
		Catalog:                c.Catalog,
		Hub:                    c.Hub,
		Metrics:                c.Metrics,
		Logger:                 logger,
		MaxConcurrent:          cfg.MaxConcurrentMigrations,
		DailyPriorityThreshold: cfg.DailyPriorityThreshold,
		MaxDailyBatch:          cfg.MaxDailyBatch,
		SourceRetention:        cfg.SourceRetention,
		StaleProcessingAfter:   cfg.StaleProcessingAfter,
		MaintenanceInterval:    cfg.MaintenanceInterval,
	})

	var locker scheduler.Locker
	switch {
	case cfg.RedisURL != "":
		redisLocker, err := scheduler.NewRedisLocker(ctx, cfg.RedisURL)
		if err != nil {
			return nil, errs.Configuration("app.Build", "redis lock: %v", err)
		}
		c.closers = append(c.closers, redisLocker.Close)
		locker = redisLocker
	case dbBackend == db.BackendSQLite:
		locker = scheduler.NewFileLocker(cfg.DataDir)
	default:
		logger.Warn("REDIS_URL is not set; the daily run is only guarded within this process")
		locker = scheduler.NewLocalLocker()
	}
	c.Scheduler, err = scheduler.New(scheduler.Config{
		Optimizer:  c.Optimizer,
		Migrations: c.Migrations,
		Locker:     locker,
		Logger:     logger,
		Metrics:    c.Metrics,
		RunAt:      cfg.DailyRunAt,
		LockTTL:    cfg.DailyLockTTL,
	})
	if err != nil {
		return nil, errs.Configuration("app.Build", "%v", err)
	}

	ok = true
	return c, nil
}

// Close releases the database and redis connections.
func (c *Components) Close() error {
	var errList []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errList = append(errList, err)
		}
	}
	c.closers = nil
	return errors.Join(errList...)
}

func Run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if err := validateListenAddr(cfg.Addr, cfg.AllowRemote); err != nil {
		return err
	}
	if cfg.AllowRemote && cfg.APIToken == "" {
		isLoopback, err := isLoopbackListenAddr(cfg.Addr)
		if err != nil {
			return err
		}
		if !isLoopback {
			return fmt.Errorf("API_TOKEN (or --api-token) is required when --allow-remote is enabled and addr is non-loopback (addr=%q)", cfg.Addr)
		}
	}

	c, err := Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	logger = c.Logger

	if _, err := c.Migrations.Recover(ctx); err != nil {
		return err
	}
	go c.Migrations.RunMaintenance(ctx)
	if c.Config.SchedulerEnabled {
		go c.Scheduler.Run(ctx)
	}

	handler := api.New(api.Dependencies{
		Config:     c.Config,
		Store:      c.Store,
		Registry:   c.Registry,
		Catalog:    c.Catalog,
		Router:     c.Router,
		Uploads:    c.Uploads,
		Optimizer:  c.Optimizer,
		Migrations: c.Migrations,
		Hub:        c.Hub,
		Metrics:    c.Metrics,
		Logger:     logger,
		ServerAddr: cfg.Addr,
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadTimeout:       0,
		WriteTimeout:      0,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", "http://"+cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func applySafeDefaults(cfg *config.Config) {
	if cfg.Environment == "" {
		cfg.Environment = config.EnvironmentDevelopment
	}
	if cfg.UploadMaxBytes < 0 {
		cfg.UploadMaxBytes = 0
	}
	if cfg.UploadMaxConcurrentRequests < 0 {
		cfg.UploadMaxConcurrentRequests = defaultUploadMaxConcurrentRequests
	}
	if cfg.MaxConcurrentMigrations <= 0 {
		cfg.MaxConcurrentMigrations = defaultMaxConcurrentMigrations
	}
	if cfg.BackendMaxAttempts <= 0 {
		cfg.BackendMaxAttempts = defaultBackendMaxAttempts
	}
	if cfg.BackendCallTimeout <= 0 {
		cfg.BackendCallTimeout = defaultBackendCallTimeout
	}
	if cfg.BackendMinThroughput <= 0 {
		cfg.BackendMinThroughput = defaultBackendMinThroughput
	}
	if cfg.DailyRunAt == "" {
		cfg.DailyRunAt = defaultDailyRunAt
	}
	if cfg.SourceRetention < 0 {
		cfg.SourceRetention = 0
	}
}

func validateListenAddr(addr string, allowRemote bool) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid addr %q (expected host:port): %w", addr, err)
	}

	if host == "" {
		if allowRemote {
			return nil
		}
		return fmt.Errorf("refusing to bind to wildcard host (addr=%q); enable --allow-remote to listen on all interfaces", addr)
	}

	switch host {
	case "127.0.0.1", "localhost", "::1":
		return nil
	default:
		if allowRemote {
			return nil
		}
		return fmt.Errorf("refusing to bind to non-local host %q (addr=%q); enable --allow-remote first", host, addr)
	}
}

func isLoopbackListenAddr(addr string) (bool, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false, fmt.Errorf("invalid addr %q (expected host:port): %w", addr, err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		return false, nil
	}
	if host == "localhost" {
		return true, nil
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false, nil
	}
	return ip.IsLoopback(), nil
}
