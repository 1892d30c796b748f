package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"storagetier/internal/backend"
	"storagetier/internal/catalog"
	"storagetier/internal/config"
	"storagetier/internal/db"
	"storagetier/internal/metrics"
	"storagetier/internal/migration"
	"storagetier/internal/models"
	"storagetier/internal/optimizer"
	"storagetier/internal/router"
	"storagetier/internal/store"
	"storagetier/internal/uploads"
	"storagetier/internal/ws"
)

type testServer struct {
	store    *store.Store
	registry *backend.Registry
	hub      *ws.Hub
	handler  http.Handler
	srv      *httptest.Server
}

func testConfig() config.Config {
	return config.Config{
		Addr:                    "127.0.0.1:0",
		Environment:             config.EnvironmentProduction,
		LargeFileBytes:          100 * config.MiB,
		VeryLargeFileBytes:      500 * config.MiB,
		AssumedMonthlyDownloads: 10,
		UploadMaxBytes:          config.MiB,
		DailyRunAt:              "03:00",
	}
}

func newTestServer(t *testing.T, cfg config.Config) *testServer {
	t.Helper()
	gormDB, err := db.Open(db.Config{
		Backend:    db.BackendSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "tier.db"),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		t.Fatalf("open sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	st, err := store.New(gormDB, store.Options{})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	cat := catalog.Default()
	reg := backend.NewRegistry()
	for _, name := range models.AllBackends {
		p, _ := cat.Profile(name)
		reg.Register(backend.NewMemory(name, p))
	}
	m := metrics.New()
	hub := ws.NewHub()
	rt := router.New(reg, cat, router.Options{
		Environment:             cfg.Environment,
		LargeFileBytes:          cfg.LargeFileBytes,
		VeryLargeFileBytes:      cfg.VeryLargeFileBytes,
		AssumedMonthlyDownloads: cfg.AssumedMonthlyDownloads,
		Metrics:                 m,
	})

	handler := New(Dependencies{
		Config:     cfg,
		Store:      st,
		Registry:   reg,
		Catalog:    cat,
		Router:     rt,
		Uploads:    uploads.NewService(uploads.Config{Router: rt, Backends: reg, Tracker: st}),
		Optimizer:  optimizer.New(optimizer.Config{Tracker: st, Metrics: st, Catalog: cat, Prom: m}),
		Migrations: migration.NewService(migration.Config{Store: st, Tracker: st, Backends: reg, Catalog: cat, Hub: hub, Metrics: m}),
		Hub:        hub,
		Metrics:    m,
		ServerAddr: cfg.Addr,
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{store: st, registry: reg, hub: hub, handler: handler, srv: srv}
}

func doJSONRequest(t *testing.T, srv *httptest.Server, method, path string, payload any) *http.Response {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, srv.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return res
}

func doUpload(t *testing.T, srv *httptest.Server, path string, data []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, srv.URL+path, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return res
}

func decodeJSONResponse(t *testing.T, res *http.Response, out any) {
	t.Helper()
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func expectStatus(t *testing.T, res *http.Response, want int) {
	t.Helper()
	if res.StatusCode != want {
		body, _ := io.ReadAll(res.Body)
		t.Fatalf("expected status %d, got %d: %s", want, res.StatusCode, string(body))
	}
}
