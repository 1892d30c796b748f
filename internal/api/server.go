package api

import (
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

type server struct {
	cfg         config.Config
	store       *store.Store
	registry    *backend.Registry
	catalog     *catalog.Catalog
	router      *router.Router
	uploads     *uploads.Service
	optimizer   *optimizer.Optimizer
	migrations  *migration.Service
	hub         *ws.Hub
	metrics     *metrics.Metrics
	logger      *zap.Logger
	serverAddr  string
	uploadLimit *requestLimiter
}
