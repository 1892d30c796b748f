package backend

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"storagetier/internal/errs"
	"storagetier/internal/metrics"
)

// Retention flags deletes that happen before a backend's minimum retention period.
// The delete still goes through; the provider bills the remainder of the period.
type Retention struct {
	Adapter
	days    int
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// WithRetention wraps a when its cost profile declares a minimum retention; otherwise a is returned as is.
func WithRetention(a Adapter, logger *zap.Logger, m *metrics.Metrics, now func() time.Time) Adapter {
	days := a.CostProfile().MinRetentionDays
	if days <= 0 {
		return a
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retention{Adapter: a, days: days, logger: logger, metrics: m, now: now}
}

func (r *Retention) Delete(ctx context.Context, key string) (DeleteResult, error) {
	var early bool
	var age time.Duration
	info, err := r.Adapter.Stat(ctx, key)
	switch {
	case err == nil && !info.UploadedAt.IsZero():
		age = r.now().Sub(info.UploadedAt)
		early = age < time.Duration(r.days)*24*time.Hour
	case err != nil && !errs.IsNotFound(err):
		r.logger.Debug("retention check skipped", zap.String("backend", string(r.Name())), zap.String("key", key), zap.Error(err))
	}

	res, err := r.Adapter.Delete(ctx, key)
	if err != nil {
		return res, err
	}
	if info.Size > 0 {
		res.SizeBytes = info.Size
	}
	if early {
		ageDays := int(age.Hours() / 24)
		res.EarlyDeletion = true
		res.Warning = fmt.Sprintf("%s deleted after %d days; minimum retention is %d days and the remainder is still billed", key, ageDays, r.days)
		r.logger.Warn("early deletion",
			zap.String("backend", string(r.Name())),
			zap.String("key", key),
			zap.Int("age_days", ageDays),
			zap.Int("min_retention_days", r.days),
			zap.Int64("bytes", res.SizeBytes),
		)
		r.metrics.IncEarlyDeletions(string(r.Name()))
	}
	return res, nil
}
