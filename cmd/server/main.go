package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"storagetier/internal/app"
	"storagetier/internal/config"
	"storagetier/internal/logging"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(val string) error {
	*s = append(*s, val)
	return nil
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("load .env: %v", err)
	}
	cfg := config.FromEnv()

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	flag.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "data directory (sqlite db)")
	flag.StringVar(&cfg.DBBackend, "db-backend", cfg.DBBackend, "database backend (sqlite or postgres)")
	flag.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "postgres connection string (required when db-backend=postgres)")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (text or json)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flag.StringVar(&cfg.APIToken, "api-token", cfg.APIToken, "optional API token (X-Api-Token)")
	flag.BoolVar(&cfg.AllowRemote, "allow-remote", cfg.AllowRemote, "allow non-local bind and accept private remote clients (requires API_TOKEN when using a non-loopback addr)")
	flag.StringVar(&cfg.Environment, "env", cfg.Environment, "deployment environment; anything but production routes all uploads to the general-purpose backend")
	flag.StringVar(&cfg.CatalogFile, "catalog", cfg.CatalogFile, "YAML file overriding backend prices and tier targets")
	flag.Int64Var(&cfg.UploadMaxBytes, "upload-max-bytes", cfg.UploadMaxBytes, "max bytes per package upload (0=unlimited)")
	flag.IntVar(&cfg.UploadMaxConcurrentRequests, "upload-max-concurrent", cfg.UploadMaxConcurrentRequests, "max concurrent upload requests (0=unlimited)")
	flag.IntVar(&cfg.MaxConcurrentMigrations, "migration-concurrency", cfg.MaxConcurrentMigrations, "max migrations processing at once")
	flag.Int64Var(&cfg.BackendMinThroughput, "backend-min-throughput", cfg.BackendMinThroughput, "slowest backend transfer rate in bytes/s; stretches the per-call timeout for large objects")
	flag.DurationVar(&cfg.SourceRetention, "migration-source-retention", cfg.SourceRetention, "keep the source copy this long after cutover (0=delete immediately)")
	flag.BoolVar(&cfg.SchedulerEnabled, "scheduler", cfg.SchedulerEnabled, "run the daily snapshot and migration check in-process")
	flag.StringVar(&cfg.DailyRunAt, "daily-run-at", cfg.DailyRunAt, "UTC time of the daily run (HH:MM)")
	flag.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "redis URL for the daily run lock (empty=process-local lock)")

	memoryBackends := stringSliceFlag(cfg.MemoryBackends)
	flag.Var(&memoryBackends, "memory-backend", "register an in-memory adapter under this backend name (repeatable, development only)")

	allowHosts := stringSliceFlag(cfg.AllowedHosts)
	flag.Var(&allowHosts, "allow-host", "allowed hostnames for Host/Origin checks (repeatable)")
	flag.Parse()

	logger, err := logging.Setup(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		log.Fatalf("invalid logging configuration: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg.MemoryBackends = memoryBackends
	cfg.AllowedHosts = normalizeHosts(allowHosts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg, logger); err != nil {
		logging.Fatalf("server error: %v", err)
	}
}

func normalizeHosts(hosts []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(hosts))
	for _, host := range hosts {
		host = normalizeHost(host)
		if host == "" {
			continue
		}
		if _, ok := seen[host]; ok {
			continue
		}
		seen[host] = struct{}{}
		out = append(out, host)
	}
	return out
}

func normalizeHost(host string) string {
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	return strings.TrimSuffix(host, ".")
}
