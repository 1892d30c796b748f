package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"storagetier/internal/models"
)

const (
	EnvironmentProduction  = "production"
	EnvironmentDevelopment = "development"
	EnvironmentTest        = "test"

	MiB = int64(1024 * 1024)
)

type Config struct {
	Addr         string
	DataDir      string
	DBBackend    string
	DatabaseURL  string
	LogFormat    string
	LogLevel     string
	APIToken     string
	AllowRemote  bool
	AllowedHosts []string

	// Environment other than "production" routes every upload to the general-purpose backend.
	Environment string
	CatalogFile string

	LargeFileBytes          int64
	VeryLargeFileBytes      int64
	AssumedMonthlyDownloads float64
	PresignExpiry           time.Duration

	UploadMaxBytes              int64
	UploadMaxConcurrentRequests int

	MaxConcurrentMigrations int
	DailyPriorityThreshold  int
	MaxDailyBatch           int
	SourceRetention         time.Duration
	StaleProcessingAfter    time.Duration
	MaintenanceInterval     time.Duration

	BackendCallTimeout time.Duration
	// BackendMinThroughput (bytes/s) extends BackendCallTimeout for large transfers.
	BackendMinThroughput int64
	BackendMaxAttempts   int

	SchedulerEnabled bool
	DailyRunAt       string
	RedisURL         string
	DailyLockTTL     time.Duration

	// MemoryBackends registers in-process adapters under these names (local development only).
	MemoryBackends []string
	Backends       map[models.BackendName]BackendConfig
}

// BackendConfig holds connection settings for one storage provider.
type BackendConfig struct {
	Name            models.BackendName
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	AccountID       string
	UseSSL          bool
	ForcePathStyle  bool
}

// LoadDotEnv loads .env files into the process environment; missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// FromEnv reads the full configuration from the environment, applying defaults.
func FromEnv() Config {
	return Config{
		Addr:         getEnv("ADDR", "127.0.0.1:8080"),
		DataDir:      getEnv("DATA_DIR", "./data"),
		DBBackend:    getEnv("DB_BACKEND", "sqlite"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		LogFormat:    getEnv("LOG_FORMAT", "text"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		APIToken:     getEnv("API_TOKEN", ""),
		AllowRemote:  getEnvBool("ALLOW_REMOTE", false),
		AllowedHosts: splitList(getEnv("ALLOWED_HOSTS", "")),

		Environment: strings.ToLower(getEnv("APP_ENV", EnvironmentDevelopment)),
		CatalogFile: getEnv("CATALOG_FILE", ""),

		LargeFileBytes:          getEnvInt64("LARGE_FILE_BYTES", 100*MiB),
		VeryLargeFileBytes:      getEnvInt64("VERY_LARGE_FILE_BYTES", 500*MiB),
		AssumedMonthlyDownloads: getEnvFloat("ASSUMED_MONTHLY_DOWNLOADS", 10),
		PresignExpiry:           getEnvDuration("PRESIGN_EXPIRY", time.Hour),

		UploadMaxBytes:              getEnvInt64("UPLOAD_MAX_BYTES", 2048*MiB),
		UploadMaxConcurrentRequests: getEnvInt("UPLOAD_MAX_CONCURRENT_REQUESTS", 8),

		MaxConcurrentMigrations: getEnvInt("MIGRATION_MAX_CONCURRENT", 5),
		DailyPriorityThreshold:  getEnvInt("MIGRATION_PRIORITY_THRESHOLD", 100),
		MaxDailyBatch:           getEnvInt("MIGRATION_MAX_DAILY_BATCH", 1000),
		SourceRetention:         getEnvDuration("MIGRATION_SOURCE_RETENTION", 24*time.Hour),
		StaleProcessingAfter:    getEnvDuration("MIGRATION_STALE_AFTER", time.Hour),
		MaintenanceInterval:     getEnvDuration("MAINTENANCE_INTERVAL", 10*time.Minute),

		BackendCallTimeout:   getEnvDuration("BACKEND_CALL_TIMEOUT", 30*time.Second),
		BackendMinThroughput: getEnvInt64("BACKEND_MIN_THROUGHPUT", MiB),
		BackendMaxAttempts:   getEnvInt("BACKEND_MAX_ATTEMPTS", 3),

		SchedulerEnabled: getEnvBool("SCHEDULER_ENABLED", false),
		DailyRunAt:       getEnv("DAILY_RUN_AT", "03:00"),
		RedisURL:         getEnv("REDIS_URL", ""),
		DailyLockTTL:     getEnvDuration("DAILY_LOCK_TTL", 2*time.Hour),

		MemoryBackends: splitList(getEnv("MEMORY_BACKENDS", "")),
		Backends:       BackendsFromEnv(),
	}
}

// BackendsFromEnv collects provider settings. Providers with no settings at all are omitted;
// partially configured ones are kept so the registry can report what is missing.
func BackendsFromEnv() map[models.BackendName]BackendConfig {
	out := map[models.BackendName]BackendConfig{}

	s3 := BackendConfig{
		Name:            models.BackendS3,
		Endpoint:        getEnv("S3_ENDPOINT", ""),
		Region:          getEnv("S3_REGION", "us-east-1"),
		Bucket:          getEnv("S3_BUCKET", ""),
		AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		UseSSL:          true,
		ForcePathStyle:  getEnvBool("S3_FORCE_PATH_STYLE", false),
	}
	if s3.Bucket != "" || s3.AccessKeyID != "" {
		out[s3.Name] = s3
	}

	r2 := BackendConfig{
		Name:            models.BackendR2,
		AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		Endpoint:        getEnv("R2_ENDPOINT", ""),
		Region:          "auto",
		Bucket:          getEnv("R2_BUCKET", ""),
		AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		UseSSL:          true,
	}
	if r2.Endpoint == "" && r2.AccountID != "" {
		r2.Endpoint = "https://" + r2.AccountID + ".r2.cloudflarestorage.com"
	}
	if r2.Bucket != "" || r2.AccessKeyID != "" || r2.AccountID != "" {
		out[r2.Name] = r2
	}

	b2Region := getEnv("B2_REGION", "us-west-004")
	b2 := BackendConfig{
		Name:            models.BackendB2,
		Endpoint:        getEnv("B2_ENDPOINT", "s3."+b2Region+".backblazeb2.com"),
		Region:          b2Region,
		Bucket:          getEnv("B2_BUCKET", ""),
		AccessKeyID:     getEnv("B2_KEY_ID", ""),
		SecretAccessKey: getEnv("B2_APPLICATION_KEY", ""),
		UseSSL:          getEnvBool("B2_USE_SSL", true),
	}
	if b2.Bucket != "" || b2.AccessKeyID != "" {
		out[b2.Name] = b2
	}

	wasabiRegion := getEnv("WASABI_REGION", "us-east-1")
	wasabi := BackendConfig{
		Name:            models.BackendWasabi,
		Endpoint:        getEnv("WASABI_ENDPOINT", "s3."+wasabiRegion+".wasabisys.com"),
		Region:          wasabiRegion,
		Bucket:          getEnv("WASABI_BUCKET", ""),
		AccessKeyID:     getEnv("WASABI_ACCESS_KEY", ""),
		SecretAccessKey: getEnv("WASABI_SECRET_KEY", ""),
		UseSSL:          getEnvBool("WASABI_USE_SSL", true),
	}
	if wasabi.Bucket != "" || wasabi.AccessKeyID != "" {
		out[wasabi.Name] = wasabi
	}

	return out
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), EnvironmentProduction)
}

// Missing lists required settings that are empty.
func (b BackendConfig) Missing() []string {
	var missing []string
	if strings.TrimSpace(b.Bucket) == "" {
		missing = append(missing, "bucket")
	}
	if strings.TrimSpace(b.AccessKeyID) == "" {
		missing = append(missing, "access key id")
	}
	if strings.TrimSpace(b.SecretAccessKey) == "" {
		missing = append(missing, "secret access key")
	}
	if b.Name != models.BackendS3 && strings.TrimSpace(b.Endpoint) == "" {
		missing = append(missing, "endpoint")
	}
	return missing
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvInt64(key string, defaultValue int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvFloat(key string, defaultValue float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvBool(key string, defaultValue bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	switch strings.ToLower(val) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return defaultValue
	}
}
