package store

import (
	"context"

	"gorm.io/gorm/clause"

	"storagetier/internal/models"
)

// UpsertCostMetrics writes one (date, tier, backend) snapshot row, replacing any earlier
// snapshot for the same key.
func (s *Store) UpsertCostMetrics(ctx context.Context, m models.StorageCostMetrics) error {
	row := costMetricsRow{
		Date:          m.Date,
		Tier:          string(m.Tier),
		Backend:       string(m.Backend),
		StorageGB:     m.StorageGB,
		DownloadGB:    m.DownloadGB,
		StorageCost:   m.StorageCost,
		BandwidthCost: m.BandwidthCost,
		TotalCost:     m.TotalCost,
		PackageCount:  m.PackageCount,
		UpdatedAt:     s.nowString(),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "date"}, {Name: "tier"}, {Name: "backend"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"storage_gb", "download_gb", "storage_cost", "bandwidth_cost", "total_cost", "package_count", "updated_at",
			}),
		}).
		Create(&row).Error
	return persistence("store.UpsertCostMetrics", err)
}

// ListCostMetricsSince returns snapshot rows with date >= sinceDate (YYYY-MM-DD), oldest first.
func (s *Store) ListCostMetricsSince(ctx context.Context, sinceDate string) ([]models.StorageCostMetrics, error) {
	var rows []costMetricsRow
	err := s.db.WithContext(ctx).
		Where("date >= ?", sinceDate).
		Order("date ASC, tier ASC, backend ASC").
		Find(&rows).Error
	if err != nil {
		return nil, persistence("store.ListCostMetricsSince", err)
	}
	out := make([]models.StorageCostMetrics, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.StorageCostMetrics{
			Date:          row.Date,
			Tier:          models.DataTier(row.Tier),
			Backend:       models.BackendName(row.Backend),
			StorageGB:     row.StorageGB,
			DownloadGB:    row.DownloadGB,
			StorageCost:   row.StorageCost,
			BandwidthCost: row.BandwidthCost,
			TotalCost:     row.TotalCost,
			PackageCount:  row.PackageCount,
		})
	}
	return out, nil
}
