package migration

import (
	"context"
	"time"

	"go.uber.org/zap"

	"storagetier/internal/errs"
	"storagetier/internal/models"
)

const (
	staleLeaseMessage = "processing lease expired"
	cleanupBatchSize  = 100
)

// Recover fails tasks stuck in processing longer than the stale window, e.g. after a crash.
// The source placement is never touched before cutover, so failing them loses no data.
func (s *Service) Recover(ctx context.Context) (int64, error) {
	n, err := s.store.FailStaleProcessing(ctx, s.now().Add(-s.staleAfter), staleLeaseMessage)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Warn("failed stale migrations", zap.Int64("count", n))
	}
	return n, nil
}

// CleanupSources deletes source copies whose retention window has passed. It returns the
// number of copies removed.
func (s *Service) CleanupSources(ctx context.Context) int {
	removed := 0
	for {
		due, err := s.store.DueSourceCleanups(ctx, s.now(), cleanupBatchSize)
		if err != nil {
			s.logger.Error("list due source cleanups", zap.Error(err))
			return removed
		}
		progressed := 0
		for _, c := range due {
			if ctx.Err() != nil {
				return removed
			}
			if s.cleanupOne(ctx, c) {
				removed++
				progressed++
			}
		}
		// Failed rows stay due; stop instead of spinning on them.
		if len(due) < cleanupBatchSize || progressed == 0 {
			return removed
		}
	}
}

func (s *Service) cleanupOne(ctx context.Context, c models.SourceCleanup) bool {
	logger := s.logger.With(
		zap.String("cleanup_id", c.ID),
		zap.String("package_id", c.PackageID),
		zap.String("backend", string(c.Backend)),
		zap.String("key", c.ObjectKey),
	)
	if c.TaskID != nil {
		logger = logger.With(zap.String("task_id", *c.TaskID))
	}

	// A later migration or upload may have put the package back on this backend and key.
	info, err := s.tracker.TierInfo(ctx, c.PackageID, c.PackageType)
	switch {
	case err == nil && info.CurrentBackend == c.Backend && info.ObjectKey == c.ObjectKey:
		logger.Info("source copy is live again, keeping it")
		if err := s.store.MarkSourceDeleted(ctx, c.ID); err != nil {
			logger.Error("mark source cleanup done", zap.Error(err))
			return false
		}
		return true
	case err != nil && !errs.IsNotFound(err):
		s.failCleanup(ctx, logger, c, err)
		return false
	}

	adapter, err := s.backends.Get(c.Backend)
	if err != nil {
		s.failCleanup(ctx, logger, c, err)
		return false
	}
	res, err := adapter.Delete(ctx, c.ObjectKey)
	if err != nil {
		s.failCleanup(ctx, logger, c, err)
		return false
	}
	if res.EarlyDeletion {
		logger.Warn("source deleted before minimum retention", zap.String("warning", res.Warning))
	}
	if err := s.store.MarkSourceDeleted(ctx, c.ID); err != nil {
		logger.Error("mark source deleted", zap.Error(err))
		return false
	}
	s.metrics.IncSourceCleanups(string(c.Backend), "deleted")
	logger.Info("source copy deleted")
	return true
}

func (s *Service) failCleanup(ctx context.Context, logger *zap.Logger, c models.SourceCleanup, cause error) {
	logger.Warn("source cleanup failed", zap.Int("attempts", c.Attempts+1), zap.Error(cause))
	s.metrics.IncSourceCleanups(string(c.Backend), "failed")
	if err := s.store.MarkSourceCleanupFailed(ctx, c.ID, cause.Error()); err != nil {
		logger.Error("record source cleanup failure", zap.Error(err))
	}
}

// RunMaintenance recovers stale tasks, deletes due source copies and drains the queue, then
// repeats every maintenance interval until ctx is done.
func (s *Service) RunMaintenance(ctx context.Context) {
	s.maintain(ctx)

	ticker := time.NewTicker(s.maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.maintain(ctx)
		}
	}
}

func (s *Service) maintain(ctx context.Context) {
	if _, err := s.Recover(ctx); err != nil {
		s.logger.Error("recover stale migrations", zap.Error(err))
	}
	s.CleanupSources(ctx)
	s.ProcessMigrationQueue(ctx)
}
