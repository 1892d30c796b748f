package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"storagetier/internal/backend"
	"storagetier/internal/catalog"
	"storagetier/internal/config"
	"storagetier/internal/metrics"
	"storagetier/internal/migration"
	"storagetier/internal/optimizer"
	"storagetier/internal/router"
	"storagetier/internal/store"
	"storagetier/internal/uploads"
	"storagetier/internal/ws"
)

type Dependencies struct {
	Config     config.Config
	Store      *store.Store
	Registry   *backend.Registry
	Catalog    *catalog.Catalog
	Router     *router.Router
	Uploads    *uploads.Service
	Optimizer  *optimizer.Optimizer
	Migrations *migration.Service
	Hub        *ws.Hub
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
	ServerAddr string
}

func New(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)

	logger := dep.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cat := dep.Catalog
	if cat == nil {
		cat = catalog.Default()
	}

	api := &server{
		cfg:         dep.Config,
		store:       dep.Store,
		registry:    dep.Registry,
		catalog:     cat,
		router:      dep.Router,
		uploads:     dep.Uploads,
		optimizer:   dep.Optimizer,
		migrations:  dep.Migrations,
		hub:         dep.Hub,
		metrics:     dep.Metrics,
		logger:      logger,
		serverAddr:  dep.ServerAddr,
		uploadLimit: newRequestLimiter(dep.Config.UploadMaxConcurrentRequests),
	}
	r.Use(api.observeRequests)

	apiRouter := chi.NewRouter()
	apiRouter.Use(api.requireAllowedHost)
	apiRouter.Use(api.requireAPIToken)

	apiRouter.Get("/ws", api.handleWS)
	apiRouter.Get("/events", api.handleEventsSSE)
	apiRouter.Get("/meta", api.handleGetMeta)

	apiRouter.Route("/packages/{packageType}/{packageId}", func(r chi.Router) {
		r.Put("/", api.handleUploadPackage)
		r.Get("/url", api.handleGetDownloadURL)
	})

	apiRouter.Post("/route", api.handleRoute)
	apiRouter.Get("/costs/compare", api.handleCompareCosts)
	apiRouter.Get("/costs/comparison", api.handleCostComparison)
	apiRouter.Get("/costs/trend", api.handleCostTrend)
	apiRouter.Get("/storage/distribution", api.handleStorageDistribution)
	apiRouter.Get("/recommendations", api.handleRecommendations)

	apiRouter.Route("/migrations", func(r chi.Router) {
		r.Get("/", api.handleListMigrations)
		r.Post("/", api.handleQueueMigration)
		r.Get("/status", api.handleQueueStatus)
		r.Post("/process", api.handleProcessQueue)
		r.Post("/daily-check", api.handleDailyCheck)
		r.Route("/{taskId}", func(r chi.Router) {
			r.Get("/", api.handleGetMigration)
			r.Post("/execute", api.handleExecuteMigration)
		})
	})

	r.Mount("/api/v1", apiRouter)

	r.Get("/openapi.yml", serveOpenAPISpec)
	r.Get("/docs", serveOpenAPIDocs)
	r.Get("/healthz", api.handleHealthz)
	r.Get("/readyz", api.handleReadyz)
	r.Get("/metrics", api.handleMetrics)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("storagetier is running\n"))
	})

	return r
}
