package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

type Config struct {
	Backend     Backend
	SQLitePath  string
	DatabaseURL string
}

func ParseBackend(raw string) (Backend, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return BackendSQLite, nil
	}
	switch raw {
	case "sqlite":
		return BackendSQLite, nil
	case "postgres", "postgresql", "pg":
		return BackendPostgres, nil
	default:
		return "", fmt.Errorf("unsupported db backend %q (expected sqlite or postgres)", raw)
	}
}

// Open connects to the configured database and applies the schema.
func Open(cfg Config) (*gorm.DB, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = BackendSQLite
	}
	switch backend {
	case BackendSQLite:
		if strings.TrimSpace(cfg.SQLitePath) == "" {
			return nil, errors.New("sqlite path is required")
		}
		return openSQLite(cfg.SQLitePath)
	case BackendPostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, errors.New("DATABASE_URL is required when DB_BACKEND=postgres")
		}
		return openPostgres(cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unsupported db backend %q", backend)
	}
}

func openSQLite(dbPath string) (*gorm.DB, error) {
	// Pragmas in the DSN apply to every pooled connection, not just the first.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, err
	}

	if err := sqlDB.Exec(`PRAGMA busy_timeout=5000;`).Error; err != nil {
		return nil, err
	}
	if err := sqlDB.Exec(`PRAGMA foreign_keys=ON;`).Error; err != nil {
		return nil, err
	}
	if err := sqlDB.Exec(`PRAGMA journal_mode=WAL;`).Error; err != nil {
		return nil, err
	}
	if err := sqlDB.Exec(`PRAGMA synchronous=NORMAL;`).Error; err != nil {
		return nil, err
	}

	if err := migrate(sqlDB); err != nil {
		return nil, err
	}

	return sqlDB, nil
}

func openPostgres(databaseURL string) (*gorm.DB, error) {
	sqlDB, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, err
	}

	if err := migrate(sqlDB); err != nil {
		return nil, err
	}

	return sqlDB, nil
}

func migrate(db *gorm.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS package_storage_tiers (
			package_id TEXT NOT NULL,
			package_type TEXT NOT NULL,
			current_tier TEXT NOT NULL,
			current_backend TEXT NOT NULL,
			object_key TEXT NOT NULL,
			size_bytes BIGINT NOT NULL DEFAULT 0,
			checksum TEXT,
			last_access_at TEXT NOT NULL,
			access_count BIGINT NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY(package_id, package_type)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_package_storage_tiers_tier_backend ON package_storage_tiers(current_tier, current_backend);`,
		`CREATE INDEX IF NOT EXISTS idx_package_storage_tiers_last_access_at ON package_storage_tiers(last_access_at);`,

		`CREATE TABLE IF NOT EXISTS migration_tasks (
			id TEXT PRIMARY KEY,
			package_id TEXT NOT NULL,
			package_type TEXT NOT NULL,
			from_backend TEXT NOT NULL,
			to_backend TEXT NOT NULL,
			from_tier TEXT NOT NULL,
			to_tier TEXT NOT NULL,
			priority INTEGER NOT NULL,
			estimated_savings DOUBLE PRECISION NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error_message TEXT,
			created_at TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_migration_tasks_status_priority ON migration_tasks(status, priority);`,
		`CREATE INDEX IF NOT EXISTS idx_migration_tasks_package ON migration_tasks(package_id, package_type);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_migration_tasks_active_package
			ON migration_tasks(package_id, package_type)
			WHERE status IN ('pending', 'processing');`,

		`CREATE TABLE IF NOT EXISTS storage_cost_metrics (
			date TEXT NOT NULL,
			tier TEXT NOT NULL,
			backend TEXT NOT NULL,
			storage_gb DOUBLE PRECISION NOT NULL,
			download_gb DOUBLE PRECISION NOT NULL,
			storage_cost DOUBLE PRECISION NOT NULL,
			bandwidth_cost DOUBLE PRECISION NOT NULL,
			total_cost DOUBLE PRECISION NOT NULL,
			package_count BIGINT NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,
			PRIMARY KEY(date, tier, backend)
		);`,

		`CREATE TABLE IF NOT EXISTS source_cleanups (
			id TEXT PRIMARY KEY,
			task_id TEXT,
			package_id TEXT NOT NULL,
			package_type TEXT NOT NULL,
			backend TEXT NOT NULL,
			object_key TEXT NOT NULL,
			delete_after TEXT NOT NULL,
			deleted_at TEXT,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			FOREIGN KEY(task_id) REFERENCES migration_tasks(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_source_cleanups_due ON source_cleanups(deleted_at, delete_after);`,
	}

	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
