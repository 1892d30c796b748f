package app

import (
	"context"
	"testing"
	"time"

	"storagetier/internal/config"
	"storagetier/internal/errs"
	"storagetier/internal/models"
)

func TestApplySafeDefaults(t *testing.T) {
	cfg := config.Config{
		UploadMaxBytes:              -1,
		UploadMaxConcurrentRequests: -1,
		MaxConcurrentMigrations:     0,
		BackendMaxAttempts:          -2,
		BackendCallTimeout:          0,
		SourceRetention:             -time.Second,
	}

	applySafeDefaults(&cfg)

	if cfg.Environment != config.EnvironmentDevelopment {
		t.Fatalf("Environment=%q, want %q", cfg.Environment, config.EnvironmentDevelopment)
	}
	if cfg.UploadMaxBytes != 0 {
		t.Fatalf("UploadMaxBytes=%d, want 0", cfg.UploadMaxBytes)
	}
	if cfg.UploadMaxConcurrentRequests != defaultUploadMaxConcurrentRequests {
		t.Fatalf("UploadMaxConcurrentRequests=%d, want %d", cfg.UploadMaxConcurrentRequests, defaultUploadMaxConcurrentRequests)
	}
	if cfg.MaxConcurrentMigrations != defaultMaxConcurrentMigrations {
		t.Fatalf("MaxConcurrentMigrations=%d, want %d", cfg.MaxConcurrentMigrations, defaultMaxConcurrentMigrations)
	}
	if cfg.BackendMaxAttempts != defaultBackendMaxAttempts {
		t.Fatalf("BackendMaxAttempts=%d, want %d", cfg.BackendMaxAttempts, defaultBackendMaxAttempts)
	}
	if cfg.BackendCallTimeout != defaultBackendCallTimeout {
		t.Fatalf("BackendCallTimeout=%s, want %s", cfg.BackendCallTimeout, defaultBackendCallTimeout)
	}
	if cfg.BackendMinThroughput != defaultBackendMinThroughput {
		t.Fatalf("BackendMinThroughput=%d, want %d", cfg.BackendMinThroughput, defaultBackendMinThroughput)
	}
	if cfg.DailyRunAt != defaultDailyRunAt {
		t.Fatalf("DailyRunAt=%q, want %q", cfg.DailyRunAt, defaultDailyRunAt)
	}
	if cfg.SourceRetention != 0 {
		t.Fatalf("SourceRetention=%s, want 0", cfg.SourceRetention)
	}
}

func TestApplySafeDefaultsPreservesConfiguredValues(t *testing.T) {
	cfg := config.Config{
		Environment:                 config.EnvironmentProduction,
		UploadMaxBytes:              1024,
		UploadMaxConcurrentRequests: 0,
		MaxConcurrentMigrations:     2,
		BackendMaxAttempts:          1,
		BackendCallTimeout:          time.Second,
		BackendMinThroughput:        4096,
		DailyRunAt:                  "04:30",
		SourceRetention:             time.Hour,
	}

	applySafeDefaults(&cfg)

	if cfg.Environment != config.EnvironmentProduction {
		t.Fatalf("Environment=%q, want production", cfg.Environment)
	}
	if cfg.UploadMaxBytes != 1024 {
		t.Fatalf("UploadMaxBytes=%d, want 1024", cfg.UploadMaxBytes)
	}
	if cfg.UploadMaxConcurrentRequests != 0 {
		t.Fatalf("UploadMaxConcurrentRequests=%d, want 0", cfg.UploadMaxConcurrentRequests)
	}
	if cfg.MaxConcurrentMigrations != 2 {
		t.Fatalf("MaxConcurrentMigrations=%d, want 2", cfg.MaxConcurrentMigrations)
	}
	if cfg.BackendMaxAttempts != 1 {
		t.Fatalf("BackendMaxAttempts=%d, want 1", cfg.BackendMaxAttempts)
	}
	if cfg.BackendCallTimeout != time.Second {
		t.Fatalf("BackendCallTimeout=%s, want 1s", cfg.BackendCallTimeout)
	}
	if cfg.BackendMinThroughput != 4096 {
		t.Fatalf("BackendMinThroughput=%d, want 4096", cfg.BackendMinThroughput)
	}
	if cfg.DailyRunAt != "04:30" {
		t.Fatalf("DailyRunAt=%q, want 04:30", cfg.DailyRunAt)
	}
	if cfg.SourceRetention != time.Hour {
		t.Fatalf("SourceRetention=%s, want 1h", cfg.SourceRetention)
	}
}

func TestValidateListenAddr(t *testing.T) {
	tests := []struct {
		addr        string
		allowRemote bool
		wantErr     bool
	}{
		{"127.0.0.1:8080", false, false},
		{"localhost:8080", false, false},
		{"[::1]:8080", false, false},
		{":8080", false, true},
		{":8080", true, false},
		{"10.0.0.5:8080", false, true},
		{"10.0.0.5:8080", true, false},
		{"no-port", false, true},
	}
	for _, tc := range tests {
		err := validateListenAddr(tc.addr, tc.allowRemote)
		if (err != nil) != tc.wantErr {
			t.Fatalf("validateListenAddr(%q, %v) err=%v, wantErr=%v", tc.addr, tc.allowRemote, err, tc.wantErr)
		}
	}
}

func TestIsLoopbackListenAddr(t *testing.T) {
	tests := map[string]bool{
		"127.0.0.1:8080": true,
		"localhost:8080": true,
		"[::1]:8080":     true,
		":8080":          false,
		"0.0.0.0:8080":   false,
		"10.0.0.5:8080":  false,
		"example:8080":   false,
	}
	for addr, want := range tests {
		got, err := isLoopbackListenAddr(addr)
		if err != nil {
			t.Fatalf("isLoopbackListenAddr(%q): %v", addr, err)
		}
		if got != want {
			t.Fatalf("isLoopbackListenAddr(%q)=%v, want %v", addr, got, want)
		}
	}
}

func TestRunRequiresTokenForRemoteBind(t *testing.T) {
	err := Run(context.Background(), config.Config{Addr: "0.0.0.0:0", AllowRemote: true}, nil)
	if err == nil {
		t.Fatal("expected error when binding remotely without an API token")
	}
}

func TestBuildWiresMemoryBackends(t *testing.T) {
	cfg := config.Config{
		DataDir:        t.TempDir(),
		DBBackend:      "sqlite",
		MemoryBackends: []string{"r2", "wasabi"},
	}

	c, err := Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	if c.Registry.Len() != 2 {
		t.Fatalf("registry has %d backends, want 2", c.Registry.Len())
	}
	if !c.Registry.Has(models.BackendWasabi) {
		t.Fatalf("expected wasabi to be registered")
	}
	if err := c.Store.Ping(context.Background()); err != nil {
		t.Fatalf("ping store: %v", err)
	}
	if c.Scheduler == nil || c.Migrations == nil || c.Optimizer == nil {
		t.Fatalf("expected services to be wired: %+v", c)
	}
}

func TestBuildFailsWithoutBackends(t *testing.T) {
	cfg := config.Config{DataDir: t.TempDir(), DBBackend: "sqlite"}

	_, err := Build(context.Background(), cfg, nil)
	if !errs.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
