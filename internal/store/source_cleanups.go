package store

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"storagetier/internal/models"
)

func newSourceCleanupRow(c models.SourceCleanup) sourceCleanupRow {
	id := c.ID
	if id == "" {
		id = ulid.Make().String()
	}
	return sourceCleanupRow{
		ID:          id,
		TaskID:      c.TaskID,
		PackageID:   c.PackageID,
		PackageType: c.PackageType,
		Backend:     string(c.Backend),
		ObjectKey:   c.ObjectKey,
		DeleteAfter: c.DeleteAfter,
	}
}

// DueSourceCleanups lists superseded copies whose retention window has passed and that are
// not yet deleted.
func (s *Store) DueSourceCleanups(ctx context.Context, now time.Time, limit int) ([]models.SourceCleanup, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []sourceCleanupRow
	err := s.db.WithContext(ctx).
		Where("deleted_at IS NULL AND delete_after <= ?", FormatTime(now)).
		Order("delete_after ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, persistence("store.DueSourceCleanups", err)
	}
	out := make([]models.SourceCleanup, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.SourceCleanup{
			ID:          row.ID,
			TaskID:      row.TaskID,
			PackageID:   row.PackageID,
			PackageType: row.PackageType,
			Backend:     models.BackendName(row.Backend),
			ObjectKey:   row.ObjectKey,
			DeleteAfter: row.DeleteAfter,
			DeletedAt:   row.DeletedAt,
			Attempts:    row.Attempts,
			LastError:   row.LastError,
		})
	}
	return out, nil
}

func (s *Store) MarkSourceDeleted(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).
		Model(&sourceCleanupRow{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"deleted_at": s.nowString(),
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": nil,
		}).Error
	return persistence("store.MarkSourceDeleted", err)
}

func (s *Store) MarkSourceCleanupFailed(ctx context.Context, id, message string) error {
	err := s.db.WithContext(ctx).
		Model(&sourceCleanupRow{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": message,
		}).Error
	return persistence("store.MarkSourceCleanupFailed", err)
}
