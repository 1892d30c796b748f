// Package optimizer prices current placements, compares them against optimal ones and
// recommends migrations.
package optimizer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"storagetier/internal/catalog"
	"storagetier/internal/metrics"
	"storagetier/internal/models"
	"storagetier/internal/store"
)

const (
	dateLayout        = "2006-01-02"
	defaultWindowDays = 30

	staleDeleteDays        = 365
	staleDeleteMaxAccesses = 5
	compressionRatio       = 0.5
)

// Tracker is the read side of the access tracker.
type Tracker interface {
	ListPackages(ctx context.Context) ([]models.PackageStorageTier, error)
	TierBackendUsage(ctx context.Context) ([]models.TierBackendUsage, error)
}

type MetricsStore interface {
	UpsertCostMetrics(ctx context.Context, m models.StorageCostMetrics) error
	ListCostMetricsSince(ctx context.Context, sinceDate string) ([]models.StorageCostMetrics, error)
}

type Config struct {
	Tracker Tracker
	Metrics MetricsStore
	Catalog *catalog.Catalog
	Logger  *zap.Logger
	Prom    *metrics.Metrics
	Now     func() time.Time
}

type Optimizer struct {
	tracker Tracker
	store   MetricsStore
	catalog *catalog.Catalog
	logger  *zap.Logger
	prom    *metrics.Metrics
	now     func() time.Time
}

func New(cfg Config) *Optimizer {
	cat := cfg.Catalog
	if cat == nil {
		cat = catalog.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Optimizer{
		tracker: cfg.Tracker,
		store:   cfg.Metrics,
		catalog: cat,
		logger:  logger,
		prom:    cfg.Prom,
		now:     now,
	}
}

// RecordDailySnapshot prices every observed (tier, backend) placement and upserts today's row
// for it. Failures are logged and skipped; the number of rows written is returned.
func (o *Optimizer) RecordDailySnapshot(ctx context.Context) int {
	usage, err := o.tracker.TierBackendUsage(ctx)
	if err != nil {
		o.logger.Error("daily snapshot: load placements failed", zap.Error(err))
		return 0
	}
	date := o.now().UTC().Format(dateLayout)
	written := 0
	for _, u := range usage {
		storageGB := o.usageGB(u)
		downloadGB := storageGB * o.catalog.DownloadRate(u.Tier)
		storageCost, bandwidthCost, total := o.catalog.Price(u.Backend, storageGB, downloadGB)
		row := models.StorageCostMetrics{
			Date:          date,
			Tier:          u.Tier,
			Backend:       u.Backend,
			StorageGB:     storageGB,
			DownloadGB:    downloadGB,
			StorageCost:   storageCost,
			BandwidthCost: bandwidthCost,
			TotalCost:     total,
			PackageCount:  u.PackageCount,
		}
		if err := o.store.UpsertCostMetrics(ctx, row); err != nil {
			o.logger.Error("daily snapshot: upsert failed",
				zap.String("tier", string(u.Tier)),
				zap.String("backend", string(u.Backend)),
				zap.Error(err),
			)
			continue
		}
		o.prom.SetMonthlyCostEstimate(string(u.Tier), string(u.Backend), total)
		written++
	}
	o.logger.Info("daily cost snapshot recorded", zap.String("date", date), zap.Int("rows", written))
	return written
}

// usageGB uses recorded sizes when present and falls back to the average object size.
func (o *Optimizer) usageGB(u models.TierBackendUsage) float64 {
	if u.TotalBytes > 0 {
		return catalog.BytesToGB(u.TotalBytes)
	}
	return float64(u.PackageCount) * o.catalog.AverageObjectSizeGB()
}

type bucketKey struct {
	tier    models.DataTier
	backend models.BackendName
}

type bucketSum struct {
	storageGB  decimal.Decimal
	downloadGB decimal.Decimal
	total      decimal.Decimal
	packages   int64
}

// CostComparison averages the last windowDays of snapshots per placement and re-prices each
// placement on its tier's optimal backend. Errors yield a zeroed comparison.
func (o *Optimizer) CostComparison(ctx context.Context, windowDays int) models.CostComparison {
	if windowDays <= 0 {
		windowDays = defaultWindowDays
	}
	out := models.CostComparison{
		WindowDays: windowDays,
		Current:    emptyBreakdown(),
		Optimized:  emptyBreakdown(),
	}
	rows, err := o.store.ListCostMetricsSince(ctx, o.sinceDate(windowDays))
	if err != nil {
		o.logger.Error("cost comparison: load snapshots failed", zap.Error(err))
		return out
	}
	if len(rows) == 0 {
		return out
	}

	dates := map[string]struct{}{}
	sums := map[bucketKey]*bucketSum{}
	var keys []bucketKey
	for _, r := range rows {
		dates[r.Date] = struct{}{}
		k := bucketKey{tier: r.Tier, backend: r.Backend}
		s, ok := sums[k]
		if !ok {
			s = &bucketSum{}
			sums[k] = s
			keys = append(keys, k)
		}
		s.storageGB = s.storageGB.Add(decimal.NewFromFloat(r.StorageGB))
		s.downloadGB = s.downloadGB.Add(decimal.NewFromFloat(r.DownloadGB))
		s.total = s.total.Add(decimal.NewFromFloat(r.TotalCost))
		if r.PackageCount > s.packages {
			s.packages = r.PackageCount
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].tier != keys[j].tier {
			return keys[i].tier.Rank() < keys[j].tier.Rank()
		}
		return keys[i].backend < keys[j].backend
	})

	days := decimal.NewFromInt(int64(len(dates)))
	currentTotal := decimal.Zero
	optimizedTotal := decimal.Zero
	currentByTier := map[models.DataTier]decimal.Decimal{}
	optimizedByTier := map[models.DataTier]decimal.Decimal{}
	for _, k := range keys {
		s := sums[k]
		storageGB, _ := s.storageGB.Div(days).Float64()
		downloadGB, _ := s.downloadGB.Div(days).Float64()
		current := s.total.Div(days)

		optimalBackend := o.catalog.OptimalBackend(k.tier)
		_, _, optimizedCost := o.catalog.Price(optimalBackend, storageGB, downloadGB)
		optimized := decimal.NewFromFloat(optimizedCost)

		currentCost, _ := current.Float64()
		out.Current.Buckets = append(out.Current.Buckets, models.CostBucket{
			Tier: k.tier, Backend: k.backend, StorageGB: storageGB, DownloadGB: downloadGB,
			MonthlyCost: currentCost, PackageCount: s.packages,
		})
		out.Optimized.Buckets = append(out.Optimized.Buckets, models.CostBucket{
			Tier: k.tier, Backend: optimalBackend, StorageGB: storageGB, DownloadGB: downloadGB,
			MonthlyCost: optimizedCost, PackageCount: s.packages,
		})

		currentTotal = currentTotal.Add(current)
		optimizedTotal = optimizedTotal.Add(optimized)
		currentByTier[k.tier] = currentByTier[k.tier].Add(current)
		optimizedByTier[k.tier] = optimizedByTier[k.tier].Add(optimized)
	}

	for tier, v := range currentByTier {
		out.Current.ByTier[tier], _ = v.Float64()
	}
	for tier, v := range optimizedByTier {
		out.Optimized.ByTier[tier], _ = v.Float64()
	}
	out.Current.Monthly, _ = currentTotal.Float64()
	out.Optimized.Monthly, _ = optimizedTotal.Float64()
	out.Savings = savings(out.Current.Monthly, out.Optimized.Monthly)
	return out
}

// savings derives monthly, yearly and percentage savings; percentage is 0 when current is 0.
func savings(current, optimized float64) models.CostSavings {
	monthly := current - optimized
	out := models.CostSavings{
		Monthly: monthly,
		Yearly:  monthly * 12,
	}
	if current != 0 {
		out.Percentage = monthly / current * 100
	}
	return out
}

func emptyBreakdown() models.CostBreakdown {
	return models.CostBreakdown{ByTier: map[models.DataTier]float64{}, Buckets: []models.CostBucket{}}
}

// GenerateRecommendations evaluates every tracked package independently; a package may get
// more than one recommendation. Results are ordered by estimated savings, highest first.
func (o *Optimizer) GenerateRecommendations(ctx context.Context) []models.Recommendation {
	packages, err := o.tracker.ListPackages(ctx)
	if err != nil {
		o.logger.Error("recommendations: load packages failed", zap.Error(err))
		return []models.Recommendation{}
	}
	now := o.now().UTC()
	avgGB := o.catalog.AverageObjectSizeGB()
	out := make([]models.Recommendation, 0)

	for _, p := range packages {
		days := store.DaysSince(p.LastAccessAt, now)

		if target, priority, ok := migrationTarget(p.CurrentTier, days); ok && target != p.CurrentTier {
			saved := o.catalog.TierMonthlyCost(p.CurrentTier, avgGB) - o.catalog.TierMonthlyCost(target, avgGB)
			t := target
			out = append(out, models.Recommendation{
				PackageID:        p.PackageID,
				PackageType:      p.PackageType,
				Type:             models.RecommendMigrate,
				CurrentTier:      p.CurrentTier,
				TargetTier:       &t,
				Priority:         priority,
				EstimatedSavings: saved,
				DaysSinceAccess:  days,
				Reason:           fmt.Sprintf("not accessed for %d days; move from %s to %s", days, p.CurrentTier, target),
			})
		}

		if days > staleDeleteDays && p.AccessCount < staleDeleteMaxAccesses {
			out = append(out, models.Recommendation{
				PackageID:        p.PackageID,
				PackageType:      p.PackageType,
				Type:             models.RecommendDelete,
				CurrentTier:      p.CurrentTier,
				Priority:         models.PriorityLow,
				EstimatedSavings: o.catalog.TierStorageCost(p.CurrentTier, avgGB),
				DaysSinceAccess:  days,
				Reason:           fmt.Sprintf("not accessed for %d days and downloaded only %d times; consider deleting", days, p.AccessCount),
			})
		}

		if p.CurrentTier == models.TierCold {
			out = append(out, models.Recommendation{
				PackageID:        p.PackageID,
				PackageType:      p.PackageType,
				Type:             models.RecommendCompress,
				CurrentTier:      p.CurrentTier,
				Priority:         models.PriorityLow,
				EstimatedSavings: o.catalog.TierStorageCost(p.CurrentTier, avgGB) * compressionRatio,
				DaysSinceAccess:  days,
				Reason:           fmt.Sprintf("cold for %d days since last access; compressing halves storage", days),
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].EstimatedSavings != out[j].EstimatedSavings {
			return out[i].EstimatedSavings > out[j].EstimatedSavings
		}
		return out[i].PackageID < out[j].PackageID
	})
	return out
}

func migrationTarget(tier models.DataTier, days int) (models.DataTier, models.RecommendationPriority, bool) {
	switch {
	case tier == models.TierHot && days > 90:
		return models.TierCold, models.PriorityHigh, true
	case tier == models.TierHot && days > 7:
		return models.TierWarm, models.PriorityMedium, true
	case tier == models.TierWarm && days > 90:
		return models.TierCold, models.PriorityHigh, true
	}
	return "", "", false
}

// CostTrend returns per-day totals for the last days days, oldest first.
func (o *Optimizer) CostTrend(ctx context.Context, days int) []models.CostTrendPoint {
	if days <= 0 {
		days = defaultWindowDays
	}
	rows, err := o.store.ListCostMetricsSince(ctx, o.sinceDate(days))
	if err != nil {
		o.logger.Error("cost trend: load snapshots failed", zap.Error(err))
		return []models.CostTrendPoint{}
	}
	type daySum struct {
		storageGB, storage, bandwidth, total decimal.Decimal
	}
	byDate := map[string]*daySum{}
	var dates []string
	for _, r := range rows {
		d, ok := byDate[r.Date]
		if !ok {
			d = &daySum{}
			byDate[r.Date] = d
			dates = append(dates, r.Date)
		}
		d.storageGB = d.storageGB.Add(decimal.NewFromFloat(r.StorageGB))
		d.storage = d.storage.Add(decimal.NewFromFloat(r.StorageCost))
		d.bandwidth = d.bandwidth.Add(decimal.NewFromFloat(r.BandwidthCost))
		d.total = d.total.Add(decimal.NewFromFloat(r.TotalCost))
	}
	sort.Strings(dates)
	out := make([]models.CostTrendPoint, 0, len(dates))
	for _, date := range dates {
		d := byDate[date]
		p := models.CostTrendPoint{Date: date}
		p.StorageGB, _ = d.storageGB.Float64()
		p.StorageCost, _ = d.storage.Float64()
		p.BandwidthCost, _ = d.bandwidth.Float64()
		p.TotalCost, _ = d.total.Float64()
		out = append(out, p)
	}
	return out
}

// StorageDistribution summarizes current placements by tier and by backend.
func (o *Optimizer) StorageDistribution(ctx context.Context) models.StorageDistribution {
	out := models.StorageDistribution{
		ByTier:    map[models.DataTier]models.DistributionEntry{},
		ByBackend: map[models.BackendName]models.DistributionEntry{},
	}
	usage, err := o.tracker.TierBackendUsage(ctx)
	if err != nil {
		o.logger.Error("storage distribution: load placements failed", zap.Error(err))
		return out
	}
	for _, u := range usage {
		gb := o.usageGB(u)
		out.TotalPackages += u.PackageCount
		out.TotalGB += gb

		t := out.ByTier[u.Tier]
		t.PackageCount += u.PackageCount
		t.StorageGB += gb
		out.ByTier[u.Tier] = t

		b := out.ByBackend[u.Backend]
		b.PackageCount += u.PackageCount
		b.StorageGB += gb
		out.ByBackend[u.Backend] = b
	}
	for k, e := range out.ByTier {
		e.Percentage = share(e, out)
		out.ByTier[k] = e
	}
	for k, e := range out.ByBackend {
		e.Percentage = share(e, out)
		out.ByBackend[k] = e
	}
	return out
}

func share(e models.DistributionEntry, total models.StorageDistribution) float64 {
	if total.TotalGB > 0 {
		return e.StorageGB / total.TotalGB * 100
	}
	if total.TotalPackages > 0 {
		return float64(e.PackageCount) / float64(total.TotalPackages) * 100
	}
	return 0
}

func (o *Optimizer) sinceDate(days int) string {
	return o.now().UTC().AddDate(0, 0, -(days - 1)).Format(dateLayout)
}
