package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"storagetier/internal/errs"
	"storagetier/internal/models"
)

type CreateTaskInput struct {
	PackageID        string
	PackageType      string
	FromBackend      models.BackendName
	ToBackend        models.BackendName
	FromTier         models.DataTier
	ToTier           models.DataTier
	Priority         int
	EstimatedSavings float64
}

// CreateMigrationTask inserts a pending task. When the package already has an active
// (pending or processing) task, that task is returned with created=false.
func (s *Store) CreateMigrationTask(ctx context.Context, in CreateTaskInput) (task models.MigrationTask, created bool, err error) {
	if strings.TrimSpace(in.PackageID) == "" || strings.TrimSpace(in.PackageType) == "" {
		return models.MigrationTask{}, false, errs.Invalid("store.CreateMigrationTask", "package id and type are required")
	}
	if existing, ok, err := s.ActiveTaskForPackage(ctx, in.PackageID, in.PackageType); err != nil {
		return models.MigrationTask{}, false, err
	} else if ok {
		return existing, false, nil
	}

	row := migrationTaskRow{
		ID:               ulid.Make().String(),
		PackageID:        in.PackageID,
		PackageType:      in.PackageType,
		FromBackend:      string(in.FromBackend),
		ToBackend:        string(in.ToBackend),
		FromTier:         string(in.FromTier),
		ToTier:           string(in.ToTier),
		Priority:         in.Priority,
		EstimatedSavings: in.EstimatedSavings,
		Status:           string(models.MigrationPending),
		CreatedAt:        s.nowString(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		// Lost a race against another writer on the active-package index.
		if existing, ok, lookupErr := s.ActiveTaskForPackage(ctx, in.PackageID, in.PackageType); lookupErr == nil && ok {
			return existing, false, nil
		}
		return models.MigrationTask{}, false, persistence("store.CreateMigrationTask", err)
	}
	return migrationTaskFromRow(row), true, nil
}

func (s *Store) ActiveTaskForPackage(ctx context.Context, packageID, packageType string) (models.MigrationTask, bool, error) {
	var row migrationTaskRow
	err := s.db.WithContext(ctx).
		Where("package_id = ? AND package_type = ? AND status IN ?", packageID, packageType,
			[]string{string(models.MigrationPending), string(models.MigrationProcessing)}).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.MigrationTask{}, false, nil
	}
	if err != nil {
		return models.MigrationTask{}, false, persistence("store.ActiveTaskForPackage", err)
	}
	return migrationTaskFromRow(row), true, nil
}

func (s *Store) GetMigrationTask(ctx context.Context, id string) (models.MigrationTask, error) {
	var row migrationTaskRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.MigrationTask{}, errs.NotFound("store.GetMigrationTask", "migration task %s not found", id)
	}
	if err != nil {
		return models.MigrationTask{}, persistence("store.GetMigrationTask", err)
	}
	return migrationTaskFromRow(row), nil
}

func (s *Store) ListMigrationTasks(ctx context.Context, f models.MigrationTaskFilter) (models.MigrationTaskList, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	query := s.db.WithContext(ctx).Model(&migrationTaskRow{})
	if f.Status != nil {
		query = query.Where("status = ?", string(*f.Status))
	}
	if f.PackageID != "" {
		query = query.Where("package_id = ?", f.PackageID)
	}
	if f.PackageType != "" {
		query = query.Where("package_type = ?", f.PackageType)
	}
	if f.Cursor != nil && *f.Cursor != "" {
		query = query.Where("id < ?", *f.Cursor)
	}

	var rows []migrationTaskRow
	if err := query.Order("id DESC").Limit(limit + 1).Find(&rows).Error; err != nil {
		return models.MigrationTaskList{}, persistence("store.ListMigrationTasks", err)
	}

	resp := models.MigrationTaskList{Items: make([]models.MigrationTask, 0, len(rows))}
	for i, row := range rows {
		if i == limit {
			next := rows[limit-1].ID
			resp.NextCursor = &next
			break
		}
		resp.Items = append(resp.Items, migrationTaskFromRow(row))
	}
	return resp, nil
}

// claimLockKey serializes claims across replicas on postgres; sqlite serializes writers itself.
const claimLockKey = 0x5469657243 // "TierC"

// freeSlots is a SQL expression for maxProcessing minus the tasks already processing, floored
// at zero. Evaluated inside the claiming statement, so the count and the claim cannot interleave
// with another claimer.
func (s *Store) freeSlots() string {
	count := "(SELECT COUNT(*) FROM migration_tasks WHERE status = '" + string(models.MigrationProcessing) + "')"
	if s.isPostgres() {
		return "GREATEST(? - " + count + ", 0)"
	}
	return "MAX(? - " + count + ", 0)"
}

// claimTx runs fn in a transaction that holds the cross-replica claim lock on postgres.
func (s *Store) claimTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.isPostgres() {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", claimLockKey).Error; err != nil {
				return err
			}
		}
		return fn(tx)
	})
}

// ClaimPendingTasks moves pending tasks, highest priority first, to processing until
// maxProcessing tasks are processing across every replica sharing the database, and returns the
// ones it claimed. Concurrent callers never receive the same task and never push the processing
// count past maxProcessing.
func (s *Store) ClaimPendingTasks(ctx context.Context, maxProcessing int) ([]models.MigrationTask, error) {
	if maxProcessing <= 0 {
		return nil, nil
	}
	lock := ""
	if s.isPostgres() {
		lock = " FOR UPDATE SKIP LOCKED"
	}
	query := `UPDATE migration_tasks SET status = ?, started_at = ?
		WHERE id IN (
			SELECT id FROM migration_tasks
			WHERE status = ?
			ORDER BY priority DESC, created_at ASC, id ASC
			LIMIT ` + s.freeSlots() + lock + `
		) AND status = ?
		RETURNING id`

	var ids []string
	err := s.claimTx(ctx, func(tx *gorm.DB) error {
		return tx.Raw(query,
			string(models.MigrationProcessing), s.nowString(),
			string(models.MigrationPending), maxProcessing,
			string(models.MigrationPending)).
			Scan(&ids).Error
	})
	if err != nil {
		return nil, persistence("store.ClaimPendingTasks", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var rows []migrationTaskRow
	if err := s.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("priority DESC, created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, persistence("store.ClaimPendingTasks", err)
	}
	out := make([]models.MigrationTask, 0, len(rows))
	for _, row := range rows {
		out = append(out, migrationTaskFromRow(row))
	}
	return out, nil
}

// ClaimTask moves one pending task to processing if fewer than maxProcessing tasks are
// processing. It returns false when the task is not pending or no slot is free.
func (s *Store) ClaimTask(ctx context.Context, id string, maxProcessing int) (bool, error) {
	if maxProcessing <= 0 {
		return false, nil
	}
	var claimed int64
	err := s.claimTx(ctx, func(tx *gorm.DB) error {
		res := tx.Exec(`UPDATE migration_tasks SET status = ?, started_at = ?
			WHERE id = ? AND status = ? AND `+s.freeSlots()+` > 0`,
			string(models.MigrationProcessing), s.nowString(),
			id, string(models.MigrationPending), maxProcessing)
		claimed = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return false, persistence("store.ClaimTask", err)
	}
	return claimed == 1, nil
}

// TransitionTask moves a task from one status to another if it is still in the expected
// status. It returns false when another writer got there first.
func (s *Store) TransitionTask(ctx context.Context, id string, from, to models.MigrationStatus, errMsg *string) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, errs.Invalid("store.TransitionTask", "illegal status transition %s -> %s", from, to)
	}
	return s.transition(s.db.WithContext(ctx), id, from, to, errMsg)
}

func (s *Store) transition(tx *gorm.DB, id string, from, to models.MigrationStatus, errMsg *string) (bool, error) {
	now := s.nowString()
	updates := map[string]any{"status": string(to)}
	switch to {
	case models.MigrationProcessing:
		updates["started_at"] = now
	case models.MigrationCompleted, models.MigrationFailed:
		updates["completed_at"] = now
		if errMsg != nil {
			updates["error_message"] = *errMsg
		}
	}
	res := tx.Model(&migrationTaskRow{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(updates)
	if res.Error != nil {
		return false, persistence("store.TransitionTask", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// CompleteTask marks a processing task completed and, when cleanup is non-nil, schedules
// deletion of the source copy in the same transaction.
func (s *Store) CompleteTask(ctx context.Context, id string, cleanup *models.SourceCleanup) (bool, error) {
	var ok bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		ok, err = s.transition(tx, id, models.MigrationProcessing, models.MigrationCompleted, nil)
		if err != nil || !ok {
			return err
		}
		if cleanup == nil {
			return nil
		}
		c := *cleanup
		c.TaskID = &id
		row := newSourceCleanupRow(c)
		return tx.Create(&row).Error
	})
	if err != nil {
		return false, persistence("store.CompleteTask", err)
	}
	return ok, nil
}

// FailStaleProcessing fails tasks that have been processing since before olderThan.
func (s *Store) FailStaleProcessing(ctx context.Context, olderThan time.Time, message string) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&migrationTaskRow{}).
		Where("status = ? AND (started_at IS NULL OR started_at < ?)", string(models.MigrationProcessing), FormatTime(olderThan)).
		Updates(map[string]any{
			"status":        string(models.MigrationFailed),
			"error_message": message,
			"completed_at":  s.nowString(),
		})
	if res.Error != nil {
		return 0, persistence("store.FailStaleProcessing", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) CountTasksByStatus(ctx context.Context) (map[models.MigrationStatus]int64, error) {
	var rows []statusCountRow
	err := s.db.WithContext(ctx).
		Model(&migrationTaskRow{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, persistence("store.CountTasksByStatus", err)
	}
	out := map[models.MigrationStatus]int64{}
	for _, row := range rows {
		out[models.MigrationStatus(row.Status)] = row.Count
	}
	return out, nil
}

func (s *Store) CompletedSavings(ctx context.Context) (float64, error) {
	var total float64
	err := s.db.WithContext(ctx).
		Model(&migrationTaskRow{}).
		Select("COALESCE(SUM(estimated_savings), 0)").
		Where("status = ?", string(models.MigrationCompleted)).
		Scan(&total).Error
	if err != nil {
		return 0, persistence("store.CompletedSavings", err)
	}
	return total, nil
}

func migrationTaskFromRow(row migrationTaskRow) models.MigrationTask {
	return models.MigrationTask{
		ID:               row.ID,
		PackageID:        row.PackageID,
		PackageType:      row.PackageType,
		FromBackend:      models.BackendName(row.FromBackend),
		ToBackend:        models.BackendName(row.ToBackend),
		FromTier:         models.DataTier(row.FromTier),
		ToTier:           models.DataTier(row.ToTier),
		Priority:         row.Priority,
		EstimatedSavings: row.EstimatedSavings,
		Status:           models.MigrationStatus(row.Status),
		ErrorMessage:     row.ErrorMessage,
		CreatedAt:        row.CreatedAt,
		StartedAt:        row.StartedAt,
		CompletedAt:      row.CompletedAt,
	}
}
