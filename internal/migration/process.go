package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storagetier/internal/backend"
	"storagetier/internal/errs"
	"storagetier/internal/models"
	"storagetier/internal/store"
	"storagetier/internal/ws"
)

const finalizeTimeout = 5 * time.Second

// ProcessMigrationQueue claims pending tasks into the free concurrency slots and runs them in
// parallel. Slots are counted across every replica sharing the database. A failing task never
// stops its siblings. Overlapping calls in the same process return immediately with Skipped set.
func (s *Service) ProcessMigrationQueue(ctx context.Context) models.ProcessSummary {
	if !s.processing.CompareAndSwap(false, true) {
		return models.ProcessSummary{Skipped: true}
	}
	defer s.processing.Store(false)

	tasks, err := s.store.ClaimPendingTasks(ctx, s.maxConcurrent)
	if err != nil {
		s.logger.Error("process queue: claim failed", zap.Error(err))
		return models.ProcessSummary{}
	}

	summary := models.ProcessSummary{Claimed: len(tasks), Results: make([]models.MigrationResult, len(tasks))}
	var g errgroup.Group
	g.SetLimit(s.maxConcurrent)
	for i, task := range tasks {
		g.Go(func() error {
			summary.Results[i] = s.run(ctx, task, s.now())
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range summary.Results {
		if r.Success {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}
	if summary.Claimed > 0 {
		s.logger.Info("migration batch finished",
			zap.Int("claimed", summary.Claimed),
			zap.Int("succeeded", summary.Succeeded),
			zap.Int("failed", summary.Failed),
		)
	}
	_, _ = s.QueueStatus(ctx)
	return summary
}

// ExecuteMigration claims a pending task and runs it, subject to the same concurrency bound as
// the queue. It never returns an error; failures are reported in the result and recorded on the
// task. A task that finds every slot busy stays pending.
func (s *Service) ExecuteMigration(ctx context.Context, taskID string) models.MigrationResult {
	start := s.now()
	task, err := s.store.GetMigrationTask(ctx, taskID)
	if err != nil {
		return failedResult(taskID, err, start, s.now())
	}
	if task.Status != models.MigrationPending {
		return failedResult(taskID, errs.Invalid("migration.ExecuteMigration", "task is %s, not pending", task.Status), start, s.now())
	}
	ok, err := s.store.ClaimTask(ctx, taskID, s.maxConcurrent)
	if err != nil {
		return failedResult(taskID, err, start, s.now())
	}
	if !ok {
		if current, err := s.store.GetMigrationTask(ctx, taskID); err == nil && current.Status == models.MigrationPending {
			return failedResult(taskID, errs.Conflict("migration.ExecuteMigration", "all %d migration slots are busy", s.maxConcurrent), start, s.now())
		}
		return failedResult(taskID, errs.Conflict("migration.ExecuteMigration", "task was claimed by another worker"), start, s.now())
	}
	task.Status = models.MigrationProcessing
	return s.run(ctx, task, start)
}

// run executes a task this process has moved to processing and records the outcome.
func (s *Service) run(ctx context.Context, task models.MigrationTask, start time.Time) (result models.MigrationResult) {
	logger := s.logger.With(
		zap.String("task_id", task.ID),
		zap.String("package_id", task.PackageID),
		zap.String("package_type", task.PackageType),
	)
	s.metrics.IncMigrationsStarted(string(task.FromTier), string(task.ToTier))
	s.hub.Publish(ws.Event{Type: ws.EventMigrationStarted, TaskID: task.ID, Payload: map[string]any{
		"status": models.MigrationProcessing,
		"from":   task.FromBackend,
		"to":     task.ToBackend,
	}})

	var cleanup *models.SourceCleanup
	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("migration panicked: %v", r)
			}
		}()
		cleanup, runErr = s.transfer(ctx, task, logger)
	}()

	// Finalize even when ctx was canceled mid-transfer.
	finCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if runErr == nil {
		ok, err := s.store.CompleteTask(finCtx, task.ID, cleanup)
		switch {
		case err != nil:
			runErr = err
		case !ok:
			runErr = errs.Invalid("migration.run", "task left processing before completion")
		}
	}

	if runErr != nil {
		msg := runErr.Error()
		if _, err := s.store.TransitionTask(finCtx, task.ID, models.MigrationProcessing, models.MigrationFailed, &msg); err != nil {
			logger.Error("record migration failure", zap.Error(err))
		}
		logger.Error("migration failed", zap.Error(runErr))
		result = failedResult(task.ID, runErr, start, s.now())
		code := string(errs.KindOf(runErr))
		s.metrics.IncMigrationsCompleted(string(task.FromTier), string(task.ToTier), string(models.MigrationFailed), &code)
		s.metrics.ObserveMigrationDuration(string(models.MigrationFailed), s.now().Sub(start))
		s.hub.Publish(ws.Event{Type: ws.EventMigrationCompleted, TaskID: task.ID, Payload: map[string]any{
			"status": models.MigrationFailed,
			"error":  msg,
		}})
		return result
	}

	elapsed := s.now().Sub(start)
	logger.Info("migration completed",
		zap.String("from", string(task.FromTier)+"/"+string(task.FromBackend)),
		zap.String("to", string(task.ToTier)+"/"+string(task.ToBackend)),
		zap.Duration("took", elapsed),
	)
	s.metrics.IncMigrationsCompleted(string(task.FromTier), string(task.ToTier), string(models.MigrationCompleted), nil)
	s.metrics.ObserveMigrationDuration(string(models.MigrationCompleted), elapsed)
	s.hub.Publish(ws.Event{Type: ws.EventMigrationCompleted, TaskID: task.ID, Payload: map[string]any{
		"status": models.MigrationCompleted,
	}})

	if cleanup != nil && s.sourceRetention == 0 {
		s.cleanupOne(finCtx, *cleanup)
	}
	return models.MigrationResult{Success: true, TaskID: task.ID, TimeTakenMs: elapsed.Milliseconds()}
}

// transfer copies the package to its destination, verifies it and switches the authoritative
// placement. Re-running it after a partial failure is safe: an already verified destination
// copy is reused. The switch only happens while the package still has the placement read here,
// so a re-upload during the copy fails the task instead of being overwritten. The returned
// cleanup describes the source copy to delete later, if any.
func (s *Service) transfer(ctx context.Context, task models.MigrationTask, logger *zap.Logger) (*models.SourceCleanup, error) {
	info, err := s.tracker.TierInfo(ctx, task.PackageID, task.PackageType)
	if err != nil {
		return nil, err
	}
	if info.CurrentTier == task.ToTier && info.CurrentBackend == task.ToBackend {
		logger.Info("package already at destination")
		return nil, nil
	}

	// The tracker's placement wins over the one recorded when the task was queued.
	from := info.CurrentBackend
	src, err := s.backends.Get(from)
	if err != nil {
		return nil, errs.BackendUnavailablef("migration.transfer", "source backend %s is not available", from)
	}
	dst, err := s.backends.Get(task.ToBackend)
	if err != nil {
		return nil, errs.BackendUnavailablef("migration.transfer", "destination backend %s is not available", task.ToBackend)
	}

	if from == task.ToBackend {
		return nil, s.tracker.UpdateTierAssignment(ctx, info, task.ToTier, task.ToBackend)
	}

	key := info.ObjectKey
	if key == "" {
		key = backend.ObjectKey(task.PackageType, task.PackageID)
	}

	copied, err := s.copyObject(ctx, src, dst, key, info.Checksum, info.SizeBytes)
	if err != nil {
		return nil, err
	}
	s.metrics.AddMigrationBytes(string(from), string(task.ToBackend), copied)

	if err := s.tracker.UpdateTierAssignment(ctx, info, task.ToTier, task.ToBackend); err != nil {
		if errs.IsConflict(err) && copied > 0 {
			s.discardCopy(ctx, dst, task, key, logger)
		}
		return nil, err
	}
	return &models.SourceCleanup{
		ID:          ulid.Make().String(),
		PackageID:   task.PackageID,
		PackageType: task.PackageType,
		Backend:     from,
		ObjectKey:   key,
		DeleteAfter: store.FormatTime(s.now().Add(s.sourceRetention)),
	}, nil
}

// discardCopy removes a destination copy written by a migration that lost its cutover, unless
// the package has meanwhile been placed there.
func (s *Service) discardCopy(ctx context.Context, dst backend.Adapter, task models.MigrationTask, key string, logger *zap.Logger) {
	current, err := s.tracker.TierInfo(ctx, task.PackageID, task.PackageType)
	if err != nil || (current.CurrentBackend == task.ToBackend && current.ObjectKey == key) {
		return
	}
	if _, err := dst.Delete(ctx, key); err != nil {
		logger.Warn("discard superseded destination copy", zap.Error(err))
	}
}

// copyObject makes sure dst holds a verified copy of key and returns the bytes copied (0 when
// an existing copy was reused).
func (s *Service) copyObject(ctx context.Context, src, dst backend.Adapter, key, checksum string, size int64) (int64, error) {
	if checksum != "" {
		if existing, err := dst.Stat(ctx, key); err == nil && existing.Checksum == checksum && (size <= 0 || existing.Size == size) {
			return 0, nil
		}
	}

	srcInfo, err := src.Stat(ctx, key)
	if err != nil {
		return 0, err
	}
	data, err := src.Fetch(ctx, key)
	if err != nil {
		return 0, err
	}
	sum := backend.Checksum(data)
	if checksum != "" && sum != checksum {
		return 0, errs.Invalid("migration.copyObject", "source checksum %s does not match recorded %s", sum, checksum)
	}
	if _, err := dst.Put(ctx, key, data, srcInfo.ContentType); err != nil {
		return 0, err
	}

	written, err := dst.Stat(ctx, key)
	if err != nil {
		return 0, err
	}
	if written.Size != int64(len(data)) {
		return 0, errs.BackendUnavailablef("migration.copyObject", "destination size %d, expected %d", written.Size, len(data))
	}
	if written.Checksum != "" && written.Checksum != sum {
		return 0, errs.BackendUnavailablef("migration.copyObject", "destination checksum %s, expected %s", written.Checksum, sum)
	}
	return int64(len(data)), nil
}

func failedResult(taskID string, err error, start, end time.Time) models.MigrationResult {
	return models.MigrationResult{
		Success:     false,
		TaskID:      taskID,
		Error:       err.Error(),
		TimeTakenMs: end.Sub(start).Milliseconds(),
	}
}
