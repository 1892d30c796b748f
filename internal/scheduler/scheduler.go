// Package scheduler runs the once-a-day cost snapshot and migration check.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"storagetier/internal/metrics"
	"storagetier/internal/models"
)

const (
	lockKey        = "storagetier:daily-run"
	defaultRunAt   = "03:00"
	defaultLockTTL = 2 * time.Hour
)

type Optimizer interface {
	RecordDailySnapshot(ctx context.Context) int
	GenerateRecommendations(ctx context.Context) []models.Recommendation
}

type Migrations interface {
	RunDailyMigrationCheck(ctx context.Context) (models.DailyCheckResult, error)
}

type Config struct {
	Optimizer  Optimizer
	Migrations Migrations
	Locker     Locker
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	// RunAt is the UTC wall-clock time of the daily run, "HH:MM".
	RunAt   string
	LockTTL time.Duration
	Now     func() time.Time
}

// Report summarizes one daily run.
type Report struct {
	Skipped         bool                    `json:"skipped"`
	Snapshots       int                     `json:"snapshots"`
	Recommendations int                     `json:"recommendations"`
	ByType          map[string]int          `json:"byType,omitempty"`
	PotentialSaving float64                 `json:"potentialSaving"`
	Check           models.DailyCheckResult `json:"check"`
}

type Scheduler struct {
	optimizer  Optimizer
	migrations Migrations
	locker     Locker
	logger     *zap.Logger
	metrics    *metrics.Metrics
	hour       int
	minute     int
	lockTTL    time.Duration
	now        func() time.Time
}

func New(cfg Config) (*Scheduler, error) {
	runAt := cfg.RunAt
	if runAt == "" {
		runAt = defaultRunAt
	}
	hour, minute, err := ParseRunAt(runAt)
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		optimizer:  cfg.Optimizer,
		migrations: cfg.Migrations,
		locker:     cfg.Locker,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		hour:       hour,
		minute:     minute,
		lockTTL:    cfg.LockTTL,
		now:        cfg.Now,
	}
	if s.locker == nil {
		s.locker = NewLocalLocker()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.lockTTL <= 0 {
		s.lockTTL = defaultLockTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// ParseRunAt parses "HH:MM" in 24-hour form.
func ParseRunAt(v string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid daily run time %q, want HH:MM", v)
	}
	return t.Hour(), t.Minute(), nil
}

// RunOnce records the cost snapshot, summarizes recommendations and runs the migration check.
// It returns a skipped report when another run holds the lock.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	unlock, ok, err := s.locker.TryLock(ctx, lockKey, s.lockTTL)
	if err != nil {
		s.metrics.IncSchedulerRuns("error")
		return Report{}, err
	}
	if !ok {
		s.logger.Info("daily run already in progress elsewhere, skipping")
		s.metrics.IncSchedulerRuns("skipped")
		return Report{Skipped: true}, nil
	}
	defer func() {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := unlock(relCtx); err != nil {
			s.logger.Warn("release daily run lock", zap.Error(err))
		}
	}()

	started := s.now()
	report := Report{ByType: map[string]int{}}
	report.Snapshots = s.optimizer.RecordDailySnapshot(ctx)

	recs := s.optimizer.GenerateRecommendations(ctx)
	report.Recommendations = len(recs)
	for _, r := range recs {
		report.ByType[string(r.Type)]++
		report.PotentialSaving += r.EstimatedSavings
	}
	s.logger.Info("cost recommendations",
		zap.Int("total", len(recs)),
		zap.Int("migrate", report.ByType[string(models.RecommendMigrate)]),
		zap.Int("delete", report.ByType[string(models.RecommendDelete)]),
		zap.Int("compress", report.ByType[string(models.RecommendCompress)]),
		zap.Float64("potential_monthly_saving", report.PotentialSaving),
	)

	check, err := s.migrations.RunDailyMigrationCheck(ctx)
	if err != nil {
		s.metrics.IncSchedulerRuns("error")
		return report, fmt.Errorf("daily migration check: %w", err)
	}
	report.Check = check

	s.metrics.IncSchedulerRuns("ok")
	s.logger.Info("daily run finished",
		zap.Int("snapshots", report.Snapshots),
		zap.Int("queued", check.Queued),
		zap.Duration("took", s.now().Sub(started)),
	)
	return report, nil
}

// Run fires RunOnce every day at the configured time until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		wait := s.NextRun(s.now()).Sub(s.now())
		s.logger.Info("next daily run scheduled", zap.Duration("in", wait))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("daily run failed", zap.Error(err))
		}
	}
}

// NextRun is the first run time strictly after now, in UTC.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
