package store

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"storagetier/internal/errs"
	"storagetier/internal/models"
)

const (
	hotWindowDays  = 7
	warmWindowDays = 90
)

type RegisterPackageInput struct {
	PackageID   string
	PackageType string
	Tier        models.DataTier
	Backend     models.BackendName
	ObjectKey   string
	SizeBytes   int64
	Checksum    string
}

// RegisterPackage records a freshly uploaded package. Re-uploading replaces the placement and
// resets the access clock and counter. When the new bytes land on a different backend or key,
// the previous copy is scheduled for deletion in the same transaction.
func (s *Store) RegisterPackage(ctx context.Context, in RegisterPackageInput) (models.PackageStorageTier, error) {
	if strings.TrimSpace(in.PackageID) == "" || strings.TrimSpace(in.PackageType) == "" {
		return models.PackageStorageTier{}, errs.Invalid("store.RegisterPackage", "package id and type are required")
	}
	tier := in.Tier
	if tier == "" {
		tier = models.TierHot
	}
	now := s.nowString()
	row := packageTierRow{
		PackageID:      in.PackageID,
		PackageType:    in.PackageType,
		CurrentTier:    string(tier),
		CurrentBackend: string(in.Backend),
		ObjectKey:      in.ObjectKey,
		SizeBytes:      in.SizeBytes,
		LastAccessAt:   now,
		AccessCount:    0,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.Checksum != "" {
		checksum := in.Checksum
		row.Checksum = &checksum
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var previous packageTierRow
		lookup := tx.Where("package_id = ? AND package_type = ?", in.PackageID, in.PackageType)
		if s.isPostgres() {
			lookup = lookup.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		found := true
		if err := lookup.Take(&previous).Error; errors.Is(err, gorm.ErrRecordNotFound) {
			found = false
		} else if err != nil {
			return err
		}

		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "package_id"}, {Name: "package_type"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"current_tier", "current_backend", "object_key", "size_bytes", "checksum", "last_access_at", "access_count", "updated_at",
			}),
		}).Create(&row).Error
		if err != nil {
			return err
		}

		if !found || (previous.CurrentBackend == row.CurrentBackend && previous.ObjectKey == row.ObjectKey) {
			return nil
		}
		superseded := newSourceCleanupRow(models.SourceCleanup{
			PackageID:   in.PackageID,
			PackageType: in.PackageType,
			Backend:     models.BackendName(previous.CurrentBackend),
			ObjectKey:   previous.ObjectKey,
			DeleteAfter: now,
		})
		return tx.Create(&superseded).Error
	})
	if err != nil {
		return models.PackageStorageTier{}, persistence("store.RegisterPackage", err)
	}
	return s.TierInfo(ctx, in.PackageID, in.PackageType)
}

// TierInfo returns the authoritative placement of a package.
func (s *Store) TierInfo(ctx context.Context, packageID, packageType string) (models.PackageStorageTier, error) {
	var row packageTierRow
	err := s.db.WithContext(ctx).
		Where("package_id = ? AND package_type = ?", packageID, packageType).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.PackageStorageTier{}, errs.NotFound("store.TierInfo", "package %s/%s is not tracked", packageType, packageID)
	}
	if err != nil {
		return models.PackageStorageTier{}, persistence("store.TierInfo", err)
	}
	return packageTierFromRow(row), nil
}

// UpdateTierAssignment moves a package to a new (tier, backend) pair, but only while the row
// still holds the placement in expected. A re-upload or another cutover in between makes the
// update a no-op and returns a Conflict error.
func (s *Store) UpdateTierAssignment(ctx context.Context, expected models.PackageStorageTier, tier models.DataTier, backend models.BackendName) error {
	query := s.db.WithContext(ctx).
		Model(&packageTierRow{}).
		Where("package_id = ? AND package_type = ?", expected.PackageID, expected.PackageType).
		Where("current_tier = ? AND current_backend = ? AND object_key = ?",
			string(expected.CurrentTier), string(expected.CurrentBackend), expected.ObjectKey)
	if expected.Checksum == "" {
		query = query.Where("checksum IS NULL")
	} else {
		query = query.Where("checksum = ?", expected.Checksum)
	}
	res := query.Updates(map[string]any{
		"current_tier":    string(tier),
		"current_backend": string(backend),
		"updated_at":      s.nowString(),
	})
	if res.Error != nil {
		return persistence("store.UpdateTierAssignment", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := s.TierInfo(ctx, expected.PackageID, expected.PackageType); err != nil {
		return err
	}
	return errs.Conflict("store.UpdateTierAssignment", "package %s/%s changed placement since %s/%s was read",
		expected.PackageType, expected.PackageID, expected.CurrentTier, expected.CurrentBackend)
}

// RecordAccess bumps the access counter and clock for a package.
func (s *Store) RecordAccess(ctx context.Context, packageID, packageType string) error {
	res := s.db.WithContext(ctx).
		Model(&packageTierRow{}).
		Where("package_id = ? AND package_type = ?", packageID, packageType).
		Updates(map[string]any{
			"access_count":   gorm.Expr("access_count + 1"),
			"last_access_at": s.nowString(),
		})
	if res.Error != nil {
		return persistence("store.RecordAccess", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.NotFound("store.RecordAccess", "package %s/%s is not tracked", packageType, packageID)
	}
	return nil
}

// SetLastAccess overwrites the access clock, used when importing history from another system.
func (s *Store) SetLastAccess(ctx context.Context, packageID, packageType string, at time.Time, accessCount int64) error {
	res := s.db.WithContext(ctx).
		Model(&packageTierRow{}).
		Where("package_id = ? AND package_type = ?", packageID, packageType).
		Updates(map[string]any{
			"access_count":   accessCount,
			"last_access_at": FormatTime(at),
		})
	if res.Error != nil {
		return persistence("store.SetLastAccess", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.NotFound("store.SetLastAccess", "package %s/%s is not tracked", packageType, packageID)
	}
	return nil
}

func (s *Store) ListPackages(ctx context.Context) ([]models.PackageStorageTier, error) {
	var rows []packageTierRow
	err := s.db.WithContext(ctx).
		Order("package_type ASC, package_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, persistence("store.ListPackages", err)
	}
	out := make([]models.PackageStorageTier, 0, len(rows))
	for _, row := range rows {
		out = append(out, packageTierFromRow(row))
	}
	return out, nil
}

// PackagesNeedingMigration classifies every tracked package by access recency and returns
// those whose recommended tier differs from the current one.
func (s *Store) PackagesNeedingMigration(ctx context.Context) ([]models.MigrationCandidate, error) {
	packages, err := s.ListPackages(ctx)
	if err != nil {
		return nil, err
	}
	now := s.Now()
	out := make([]models.MigrationCandidate, 0)
	for _, p := range packages {
		days := DaysSince(p.LastAccessAt, now)
		recommended := RecommendedTier(days)
		if recommended == p.CurrentTier {
			continue
		}
		out = append(out, models.MigrationCandidate{
			PackageID:       p.PackageID,
			PackageType:     p.PackageType,
			CurrentTier:     p.CurrentTier,
			RecommendedTier: recommended,
			DaysSinceAccess: days,
		})
	}
	return out, nil
}

// TierBackendUsage aggregates tracked packages per (tier, backend).
func (s *Store) TierBackendUsage(ctx context.Context) ([]models.TierBackendUsage, error) {
	var rows []tierBackendUsageRow
	err := s.db.WithContext(ctx).
		Model(&packageTierRow{}).
		Select("current_tier AS tier, current_backend AS backend, COUNT(*) AS package_count, COALESCE(SUM(size_bytes), 0) AS total_bytes").
		Group("current_tier, current_backend").
		Order("current_tier, current_backend").
		Scan(&rows).Error
	if err != nil {
		return nil, persistence("store.TierBackendUsage", err)
	}
	out := make([]models.TierBackendUsage, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.TierBackendUsage{
			Tier:         models.DataTier(row.Tier),
			Backend:      models.BackendName(row.Backend),
			PackageCount: row.PackageCount,
			TotalBytes:   row.TotalBytes,
		})
	}
	return out, nil
}

// RecommendedTier maps days since last access to the tier a package belongs in.
func RecommendedTier(daysSinceAccess int) models.DataTier {
	switch {
	case daysSinceAccess <= hotWindowDays:
		return models.TierHot
	case daysSinceAccess <= warmWindowDays:
		return models.TierWarm
	default:
		return models.TierCold
	}
}

// DaysSince returns whole days between a stored timestamp and now. Unparseable values count as 0.
func DaysSince(raw string, now time.Time) int {
	at, err := ParseTime(raw)
	if err != nil {
		return 0
	}
	d := now.Sub(at)
	if d <= 0 {
		return 0
	}
	return int(math.Floor(d.Hours() / 24))
}

func packageTierFromRow(row packageTierRow) models.PackageStorageTier {
	out := models.PackageStorageTier{
		PackageID:      row.PackageID,
		PackageType:    row.PackageType,
		CurrentTier:    models.DataTier(row.CurrentTier),
		CurrentBackend: models.BackendName(row.CurrentBackend),
		ObjectKey:      row.ObjectKey,
		SizeBytes:      row.SizeBytes,
		LastAccessAt:   row.LastAccessAt,
		AccessCount:    row.AccessCount,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
	if row.Checksum != nil {
		out.Checksum = *row.Checksum
	}
	return out
}
