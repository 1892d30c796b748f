// Package migration turns tier recommendations into durable tasks and moves package bytes
// between backends.
package migration

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"storagetier/internal/backend"
	"storagetier/internal/catalog"
	"storagetier/internal/errs"
	"storagetier/internal/metrics"
	"storagetier/internal/models"
	"storagetier/internal/store"
	"storagetier/internal/ws"
)

const (
	defaultMaxConcurrent    = 5
	defaultPriorityCutoff   = 100
	defaultMaxDailyBatch    = 1000
	defaultSourceRetention  = 24 * time.Hour
	defaultStaleAfter       = time.Hour
	defaultMaintenanceEvery = 10 * time.Minute

	maxRecencyScore = 100
	maxSavingsScore = 50
	daysPerMonth    = 30
)

// transitionScores rank downgrades above upgrades: downgrades realize savings.
var transitionScores = map[[2]models.DataTier]int{
	{models.TierHot, models.TierCold}:  50,
	{models.TierWarm, models.TierCold}: 40,
	{models.TierHot, models.TierWarm}:  30,
	{models.TierCold, models.TierWarm}: 20,
	{models.TierWarm, models.TierHot}:  15,
	{models.TierCold, models.TierHot}:  10,
}

// Store is the task and cleanup persistence used by the service.
type Store interface {
	CreateMigrationTask(ctx context.Context, in store.CreateTaskInput) (models.MigrationTask, bool, error)
	GetMigrationTask(ctx context.Context, id string) (models.MigrationTask, error)
	ListMigrationTasks(ctx context.Context, f models.MigrationTaskFilter) (models.MigrationTaskList, error)
	ClaimPendingTasks(ctx context.Context, maxProcessing int) ([]models.MigrationTask, error)
	ClaimTask(ctx context.Context, id string, maxProcessing int) (bool, error)
	TransitionTask(ctx context.Context, id string, from, to models.MigrationStatus, errMsg *string) (bool, error)
	CompleteTask(ctx context.Context, id string, cleanup *models.SourceCleanup) (bool, error)
	FailStaleProcessing(ctx context.Context, olderThan time.Time, message string) (int64, error)
	CountTasksByStatus(ctx context.Context) (map[models.MigrationStatus]int64, error)
	CompletedSavings(ctx context.Context) (float64, error)
	DueSourceCleanups(ctx context.Context, now time.Time, limit int) ([]models.SourceCleanup, error)
	MarkSourceDeleted(ctx context.Context, id string) error
	MarkSourceCleanupFailed(ctx context.Context, id, message string) error
}

// Tracker is the access tracker: it owns the authoritative placement of every package.
type Tracker interface {
	PackagesNeedingMigration(ctx context.Context) ([]models.MigrationCandidate, error)
	TierInfo(ctx context.Context, packageID, packageType string) (models.PackageStorageTier, error)
	UpdateTierAssignment(ctx context.Context, expected models.PackageStorageTier, tier models.DataTier, backend models.BackendName) error
}

type Backends interface {
	Get(name models.BackendName) (backend.Adapter, error)
}

type Config struct {
	Store    Store
	Tracker  Tracker
	Backends Backends
	Catalog  *catalog.Catalog
	Hub      *ws.Hub
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Now      func() time.Time

	MaxConcurrent          int
	DailyPriorityThreshold int
	MaxDailyBatch          int
	// SourceRetention is how long the source copy is kept after cutover. Zero deletes it right away.
	SourceRetention      time.Duration
	StaleProcessingAfter time.Duration
	MaintenanceInterval  time.Duration
}

type Service struct {
	store    Store
	tracker  Tracker
	backends Backends
	catalog  *catalog.Catalog
	hub      *ws.Hub
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time

	maxConcurrent       int
	priorityThreshold   int
	maxDailyBatch       int
	sourceRetention     time.Duration
	staleAfter          time.Duration
	maintenanceInterval time.Duration

	processing atomic.Bool
}

func NewService(cfg Config) *Service {
	s := &Service{
		store:               cfg.Store,
		tracker:             cfg.Tracker,
		backends:            cfg.Backends,
		catalog:             cfg.Catalog,
		hub:                 cfg.Hub,
		metrics:             cfg.Metrics,
		logger:              cfg.Logger,
		now:                 cfg.Now,
		maxConcurrent:       cfg.MaxConcurrent,
		priorityThreshold:   cfg.DailyPriorityThreshold,
		maxDailyBatch:       cfg.MaxDailyBatch,
		sourceRetention:     cfg.SourceRetention,
		staleAfter:          cfg.StaleProcessingAfter,
		maintenanceInterval: cfg.MaintenanceInterval,
	}
	if s.catalog == nil {
		s.catalog = catalog.Default()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.maxConcurrent <= 0 {
		s.maxConcurrent = defaultMaxConcurrent
	}
	if s.priorityThreshold <= 0 {
		s.priorityThreshold = defaultPriorityCutoff
	}
	if s.maxDailyBatch <= 0 {
		s.maxDailyBatch = defaultMaxDailyBatch
	}
	if s.sourceRetention < 0 {
		s.sourceRetention = defaultSourceRetention
	}
	if s.staleAfter <= 0 {
		s.staleAfter = defaultStaleAfter
	}
	if s.maintenanceInterval <= 0 {
		s.maintenanceInterval = defaultMaintenanceEvery
	}
	return s
}

// BackendForTier is the backend packages of a tier are migrated to.
func (s *Service) BackendForTier(tier models.DataTier) models.BackendName {
	return s.catalog.OptimalBackend(tier)
}

// CheckForMigrations builds unsaved tasks for every package the tracker flags, highest
// priority first.
func (s *Service) CheckForMigrations(ctx context.Context) ([]models.MigrationTask, error) {
	candidates, err := s.tracker.PackagesNeedingMigration(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.MigrationTask, 0, len(candidates))
	for _, c := range candidates {
		if c.CurrentTier == c.RecommendedTier {
			continue
		}
		info, err := s.tracker.TierInfo(ctx, c.PackageID, c.PackageType)
		if err != nil {
			s.logger.Warn("skip migration candidate",
				zap.String("package_id", c.PackageID),
				zap.String("package_type", c.PackageType),
				zap.Error(err),
			)
			continue
		}
		toBackend := s.BackendForTier(c.RecommendedTier)
		savings := s.estimateSavings(info, toBackend, c.DaysSinceAccess)
		out = append(out, models.MigrationTask{
			PackageID:        c.PackageID,
			PackageType:      c.PackageType,
			FromBackend:      info.CurrentBackend,
			ToBackend:        toBackend,
			FromTier:         c.CurrentTier,
			ToTier:           c.RecommendedTier,
			Priority:         priority(c.CurrentTier, c.RecommendedTier, c.DaysSinceAccess, savings),
			EstimatedSavings: savings,
			Status:           models.MigrationPending,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if out[i].PackageType != out[j].PackageType {
			return out[i].PackageType < out[j].PackageType
		}
		return out[i].PackageID < out[j].PackageID
	})
	return out, nil
}

// estimateSavings prices the package on both backends with a download volume derived from
// how recently it was accessed.
func (s *Service) estimateSavings(info models.PackageStorageTier, to models.BackendName, daysSinceAccess int) float64 {
	sizeGB := s.catalog.AverageObjectSizeGB()
	if info.SizeBytes > 0 {
		sizeGB = catalog.BytesToGB(info.SizeBytes)
	}
	downloadGB := sizeGB * monthlyDownloads(daysSinceAccess)
	_, _, fromCost := s.catalog.Price(info.CurrentBackend, sizeGB, downloadGB)
	_, _, toCost := s.catalog.Price(to, sizeGB, downloadGB)
	return fromCost - toCost
}

func monthlyDownloads(daysSinceAccess int) float64 {
	if daysSinceAccess < 1 {
		daysSinceAccess = 1
	}
	d := float64(daysPerMonth) / float64(daysSinceAccess)
	if d > daysPerMonth {
		d = daysPerMonth
	}
	return d
}

func priority(from, to models.DataTier, daysSinceAccess int, savings float64) int {
	score := transitionScores[[2]models.DataTier{from, to}]
	score += min(daysSinceAccess, maxRecencyScore)
	score += min(int(savings*100), maxSavingsScore)
	return score
}

// PlanMigration builds an unsaved task moving one package to tier, scored like the daily check.
func (s *Service) PlanMigration(ctx context.Context, packageID, packageType string, tier models.DataTier) (models.MigrationTask, error) {
	if !tier.Valid() {
		return models.MigrationTask{}, errs.Invalid("migration.PlanMigration", "unknown tier %q", tier)
	}
	info, err := s.tracker.TierInfo(ctx, packageID, packageType)
	if err != nil {
		return models.MigrationTask{}, err
	}
	toBackend := s.BackendForTier(tier)
	if info.CurrentTier == tier && info.CurrentBackend == toBackend {
		return models.MigrationTask{}, errs.Invalid("migration.PlanMigration", "package is already %s on %s", tier, toBackend)
	}
	days := store.DaysSince(info.LastAccessAt, s.now())
	savings := s.estimateSavings(info, toBackend, days)
	return models.MigrationTask{
		PackageID:        packageID,
		PackageType:      packageType,
		FromBackend:      info.CurrentBackend,
		ToBackend:        toBackend,
		FromTier:         info.CurrentTier,
		ToTier:           tier,
		Priority:         priority(info.CurrentTier, tier, days, savings),
		EstimatedSavings: savings,
		Status:           models.MigrationPending,
	}, nil
}

// QueueMigration persists a pending task and returns its id. A package that already has an
// active task gets that task's id back.
func (s *Service) QueueMigration(ctx context.Context, task models.MigrationTask) (string, error) {
	queued, _, err := s.queue(ctx, task)
	if err != nil {
		return "", err
	}
	return queued.ID, nil
}

// queue is QueueMigration that also reports whether a new task was created.
func (s *Service) queue(ctx context.Context, task models.MigrationTask) (models.MigrationTask, bool, error) {
	if !task.FromTier.Valid() || !task.ToTier.Valid() {
		return models.MigrationTask{}, false, errs.Invalid("migration.QueueMigration", "invalid tiers %q -> %q", task.FromTier, task.ToTier)
	}
	if task.FromTier == task.ToTier && task.FromBackend == task.ToBackend {
		return models.MigrationTask{}, false, errs.Invalid("migration.QueueMigration", "task does not change placement")
	}
	if strings.TrimSpace(string(task.ToBackend)) == "" {
		task.ToBackend = s.BackendForTier(task.ToTier)
	}
	queued, created, err := s.store.CreateMigrationTask(ctx, store.CreateTaskInput{
		PackageID:        task.PackageID,
		PackageType:      task.PackageType,
		FromBackend:      task.FromBackend,
		ToBackend:        task.ToBackend,
		FromTier:         task.FromTier,
		ToTier:           task.ToTier,
		Priority:         task.Priority,
		EstimatedSavings: task.EstimatedSavings,
	})
	if err != nil {
		return models.MigrationTask{}, false, err
	}
	if created {
		s.hub.Publish(ws.Event{Type: ws.EventMigrationQueued, TaskID: queued.ID, Payload: queued})
		s.logger.Info("migration queued",
			zap.String("task_id", queued.ID),
			zap.String("package_id", queued.PackageID),
			zap.String("from", string(queued.FromTier)+"/"+string(queued.FromBackend)),
			zap.String("to", string(queued.ToTier)+"/"+string(queued.ToBackend)),
			zap.Int("priority", queued.Priority),
		)
	}
	return queued, created, nil
}

func (s *Service) GetTask(ctx context.Context, id string) (models.MigrationTask, error) {
	return s.store.GetMigrationTask(ctx, id)
}

func (s *Service) ListTasks(ctx context.Context, f models.MigrationTaskFilter) (models.MigrationTaskList, error) {
	return s.store.ListMigrationTasks(ctx, f)
}

// QueueStatus counts tasks by status and sums the savings of completed ones.
func (s *Service) QueueStatus(ctx context.Context) (models.QueueStatus, error) {
	counts, err := s.store.CountTasksByStatus(ctx)
	if err != nil {
		return models.QueueStatus{}, err
	}
	total, err := s.store.CompletedSavings(ctx)
	if err != nil {
		return models.QueueStatus{}, err
	}
	for _, st := range []models.MigrationStatus{models.MigrationPending, models.MigrationProcessing, models.MigrationCompleted, models.MigrationFailed} {
		s.metrics.SetMigrationQueue(string(st), counts[st])
	}
	return models.QueueStatus{
		Pending:      counts[models.MigrationPending],
		Processing:   counts[models.MigrationProcessing],
		Completed:    counts[models.MigrationCompleted],
		Failed:       counts[models.MigrationFailed],
		TotalSavings: total,
	}, nil
}

// RunDailyMigrationCheck queues every candidate above the priority threshold, up to the daily
// batch cap, then processes the queue.
func (s *Service) RunDailyMigrationCheck(ctx context.Context) (models.DailyCheckResult, error) {
	candidates, err := s.CheckForMigrations(ctx)
	if err != nil {
		return models.DailyCheckResult{}, err
	}
	res := models.DailyCheckResult{Candidates: len(candidates)}
	for _, task := range candidates {
		if res.Queued >= s.maxDailyBatch {
			break
		}
		if task.Priority <= s.priorityThreshold {
			// Sorted by priority; nothing further qualifies.
			break
		}
		_, created, err := s.queue(ctx, task)
		if err != nil {
			s.logger.Error("queue migration failed", zap.String("package_id", task.PackageID), zap.Error(err))
			continue
		}
		if created {
			res.Queued++
		} else {
			res.AlreadyQueued++
		}
	}
	res.Processed = s.ProcessMigrationQueue(ctx)
	s.hub.Publish(ws.Event{Type: ws.EventDailyCheck, Payload: res})
	s.logger.Info("daily migration check finished",
		zap.Int("candidates", res.Candidates),
		zap.Int("queued", res.Queued),
		zap.Int("already_queued", res.AlreadyQueued),
		zap.Int("succeeded", res.Processed.Succeeded),
		zap.Int("failed", res.Processed.Failed),
	)
	return res, nil
}
