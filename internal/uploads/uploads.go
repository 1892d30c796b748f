// Package uploads writes new packages through the router and hands out download URLs.
package uploads

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"storagetier/internal/backend"
	"storagetier/internal/errs"
	"storagetier/internal/models"
	"storagetier/internal/store"
)

type Router interface {
	Route(ctx context.Context, rc models.RouteContext) (models.RouteDecision, error)
}

type Backends interface {
	Get(name models.BackendName) (backend.Adapter, error)
}

// Tracker is the access-tracking side of the store used by uploads.
type Tracker interface {
	RegisterPackage(ctx context.Context, in store.RegisterPackageInput) (models.PackageStorageTier, error)
	TierInfo(ctx context.Context, packageID, packageType string) (models.PackageStorageTier, error)
	RecordAccess(ctx context.Context, packageID, packageType string) error
	ActiveTaskForPackage(ctx context.Context, packageID, packageType string) (models.MigrationTask, bool, error)
}

type Config struct {
	Router        Router
	Backends      Backends
	Tracker       Tracker
	Logger        *zap.Logger
	DefaultExpiry time.Duration
}

type Service struct {
	router        Router
	backends      Backends
	tracker       Tracker
	logger        *zap.Logger
	defaultExpiry time.Duration
}

func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	expiry := cfg.DefaultExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &Service{
		router:        cfg.Router,
		backends:      cfg.Backends,
		tracker:       cfg.Tracker,
		logger:        logger,
		defaultExpiry: expiry,
	}
}

type UploadRequest struct {
	models.RouteContext
	PackageID   string
	ContentType string
	Data        []byte
}

// Upload routes a package, stores its bytes and registers it in the hot tier. Packages with a
// pending or processing migration are refused until the task finishes.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (models.UploadResult, error) {
	if strings.TrimSpace(req.PackageID) == "" || strings.TrimSpace(req.PackageType) == "" {
		return models.UploadResult{}, errs.Invalid("uploads.Upload", "package id and type are required")
	}
	if strings.Contains(req.PackageID, "/") || strings.Contains(req.PackageType, "/") {
		return models.UploadResult{}, errs.Invalid("uploads.Upload", "package id and type must not contain '/'")
	}
	req.FileSize = int64(len(req.Data))

	task, active, err := s.tracker.ActiveTaskForPackage(ctx, req.PackageID, req.PackageType)
	if err != nil {
		return models.UploadResult{}, err
	}
	if active {
		return models.UploadResult{}, errs.Conflict("uploads.Upload", "package %s/%s has a %s migration (task %s); retry after it finishes",
			req.PackageType, req.PackageID, task.Status, task.ID)
	}

	decision, err := s.router.Route(ctx, req.RouteContext)
	if err != nil {
		return models.UploadResult{}, err
	}
	adapter, err := s.backends.Get(decision.Backend)
	if err != nil {
		return models.UploadResult{}, err
	}

	key := backend.ObjectKey(req.PackageType, req.PackageID)
	put, err := adapter.Put(ctx, key, req.Data, req.ContentType)
	if err != nil {
		return models.UploadResult{}, err
	}
	checksum := backend.Checksum(req.Data)
	if _, err := s.tracker.RegisterPackage(ctx, store.RegisterPackageInput{
		PackageID:   req.PackageID,
		PackageType: req.PackageType,
		Tier:        models.TierHot,
		Backend:     decision.Backend,
		ObjectKey:   put.Key,
		SizeBytes:   req.FileSize,
		Checksum:    checksum,
	}); err != nil {
		return models.UploadResult{}, err
	}

	s.logger.Info("package uploaded",
		zap.String("package_id", req.PackageID),
		zap.String("package_type", req.PackageType),
		zap.String("backend", string(decision.Backend)),
		zap.String("rule", string(decision.Rule)),
		zap.Int64("size_bytes", req.FileSize),
	)
	return models.UploadResult{
		PackageID:     req.PackageID,
		PackageType:   req.PackageType,
		Backend:       decision.Backend,
		Key:           put.Key,
		URL:           put.URL,
		Reason:        decision.Reason,
		EstimatedCost: decision.EstimatedCost,
		SizeBytes:     req.FileSize,
		Checksum:      checksum,
	}, nil
}

// DownloadURL signs a URL on the package's current backend and counts the access.
func (s *Service) DownloadURL(ctx context.Context, packageID, packageType string, expiresIn time.Duration) (models.DownloadURL, error) {
	info, err := s.tracker.TierInfo(ctx, packageID, packageType)
	if err != nil {
		return models.DownloadURL{}, err
	}
	adapter, err := s.backends.Get(info.CurrentBackend)
	if err != nil {
		return models.DownloadURL{}, errs.BackendUnavailablef("uploads.DownloadURL", "backend %s holding %s/%s is not available", info.CurrentBackend, packageType, packageID)
	}
	if expiresIn <= 0 {
		expiresIn = s.defaultExpiry
	}
	key := info.ObjectKey
	if key == "" {
		key = backend.ObjectKey(packageType, packageID)
	}
	res, err := adapter.Get(ctx, key, expiresIn)
	if err != nil {
		return models.DownloadURL{}, err
	}
	if err := s.tracker.RecordAccess(ctx, packageID, packageType); err != nil {
		s.logger.Warn("record access failed", zap.String("package_id", packageID), zap.Error(err))
	}
	return models.DownloadURL{
		PackageID: packageID,
		Backend:   info.CurrentBackend,
		URL:       res.URL,
		ExpiresAt: res.ExpiresAt.UTC().Format(time.RFC3339),
	}, nil
}
