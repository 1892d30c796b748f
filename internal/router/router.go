// Package router picks the backend a new upload is written to.
package router

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"storagetier/internal/backend"
	"storagetier/internal/catalog"
	"storagetier/internal/config"
	"storagetier/internal/errs"
	"storagetier/internal/metrics"
	"storagetier/internal/models"
)

const (
	defaultLargeFileBytes     = 100 * config.MiB
	defaultVeryLargeFileBytes = 500 * config.MiB
)

// Backends is the part of the registry the router reads.
type Backends interface {
	Has(name models.BackendName) bool
	Names() []models.BackendName
}

type Options struct {
	Environment             string
	LargeFileBytes          int64
	VeryLargeFileBytes      int64
	AssumedMonthlyDownloads float64
	Logger                  *zap.Logger
	Metrics                 *metrics.Metrics
}

type Router struct {
	backends Backends
	catalog  *catalog.Catalog
	opts     Options
	logger   *zap.Logger
}

var _ Backends = (*backend.Registry)(nil)

func New(backends Backends, cat *catalog.Catalog, opts Options) *Router {
	if cat == nil {
		cat = catalog.Default()
	}
	if opts.LargeFileBytes <= 0 {
		opts.LargeFileBytes = defaultLargeFileBytes
	}
	if opts.VeryLargeFileBytes <= 0 {
		opts.VeryLargeFileBytes = defaultVeryLargeFileBytes
	}
	if opts.AssumedMonthlyDownloads < 0 {
		opts.AssumedMonthlyDownloads = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{backends: backends, catalog: cat, opts: opts, logger: logger}
}

type rule struct {
	name    models.RouteRule
	backend models.BackendName
	applies func(rc models.RouteContext) bool
	reason  func(rc models.RouteContext) string
}

func (r *Router) rules() []rule {
	general := r.catalog.DefaultBackend()
	return []rule{
		{
			name:    models.RuleNonProduction,
			backend: general,
			applies: func(rc models.RouteContext) bool {
				return rc.IsTest || !strings.EqualFold(strings.TrimSpace(r.opts.Environment), config.EnvironmentProduction)
			},
			reason: func(rc models.RouteContext) string {
				if rc.IsTest {
					return "test upload routed to the general-purpose backend"
				}
				return "non-production environment routed to the general-purpose backend"
			},
		},
		{
			name:    models.RuleAgentUpload,
			backend: models.BackendR2,
			applies: func(rc models.RouteContext) bool { return rc.UploadSource == models.UploadSourceAgent },
			reason: func(models.RouteContext) string {
				return "AI agent uploads are read-heavy; zero-egress backend avoids bandwidth cost"
			},
		},
		{
			name:    models.RuleVeryLarge,
			backend: models.BackendWasabi,
			applies: func(rc models.RouteContext) bool { return rc.FileSize > r.opts.VeryLargeFileBytes },
			reason: func(rc models.RouteContext) string {
				return fmt.Sprintf("very large file (%.1f MB) routed to the cheapest storage with free egress", mb(rc.FileSize))
			},
		},
		{
			name:    models.RuleLarge,
			backend: models.BackendB2,
			applies: func(rc models.RouteContext) bool { return rc.FileSize > r.opts.LargeFileBytes },
			reason: func(rc models.RouteContext) string {
				return fmt.Sprintf("large file (%.1f MB) routed to cheap storage", mb(rc.FileSize))
			},
		},
		{
			name:    models.RuleUserUpload,
			backend: general,
			applies: func(rc models.RouteContext) bool { return rc.UploadSource == models.UploadSourceUser },
			reason: func(models.RouteContext) string {
				return "user upload routed to the high-availability backend"
			},
		},
		{
			name:    models.RuleFallback,
			backend: general,
			applies: func(models.RouteContext) bool { return true },
			reason: func(models.RouteContext) string {
				return "default general-purpose backend"
			},
		},
	}
}

// Route evaluates the routing rules in order against the registered backends. A rule whose
// backend is not registered falls through to the next one. It fails only when no backend is
// registered at all.
func (r *Router) Route(ctx context.Context, rc models.RouteContext) (models.RouteDecision, error) {
	if r.backends == nil || len(r.backends.Names()) == 0 {
		return models.RouteDecision{}, errs.Configuration("router.Route", "no storage backends are registered")
	}
	if rc.FileSize < 0 {
		return models.RouteDecision{}, errs.Invalid("router.Route", "file size must not be negative")
	}

	decision, ok := r.match(rc)
	if !ok {
		quotes := r.CompareCosts(rc.FileSize, r.opts.AssumedMonthlyDownloads)
		cheapest := quotes[0]
		decision = models.RouteDecision{
			Backend: cheapest.Backend,
			Rule:    models.RuleCheapest,
			Reason:  "preferred backends unavailable; cheapest registered backend selected",
		}
	}
	decision.EstimatedCost = r.quote(decision.Backend, rc.FileSize, r.opts.AssumedMonthlyDownloads).TotalCost

	r.opts.Metrics.IncRouteDecisions(string(decision.Backend), string(decision.Rule))
	r.logger.Debug("upload routed",
		zap.String("backend", string(decision.Backend)),
		zap.String("rule", string(decision.Rule)),
		zap.String("package_type", rc.PackageType),
		zap.Int64("size_bytes", rc.FileSize),
	)
	return decision, nil
}

func (r *Router) match(rc models.RouteContext) (models.RouteDecision, bool) {
	for _, rl := range r.rules() {
		if !rl.applies(rc) || !r.backends.Has(rl.backend) {
			continue
		}
		return models.RouteDecision{Backend: rl.backend, Rule: rl.name, Reason: rl.reason(rc)}, true
	}
	return models.RouteDecision{}, false
}

// CompareCosts prices fileSize bytes with monthlyDownloads full downloads on every registered
// backend, cheapest first. Ties are broken by backend name.
func (r *Router) CompareCosts(fileSize int64, monthlyDownloads float64) []models.CostQuote {
	if r.backends == nil {
		return nil
	}
	names := r.backends.Names()
	out := make([]models.CostQuote, 0, len(names))
	for _, name := range names {
		out = append(out, r.quote(name, fileSize, monthlyDownloads))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalCost != out[j].TotalCost {
			return out[i].TotalCost < out[j].TotalCost
		}
		return out[i].Backend < out[j].Backend
	})
	return out
}

func (r *Router) quote(name models.BackendName, fileSize int64, monthlyDownloads float64) models.CostQuote {
	sizeGB := catalog.BytesToGB(fileSize)
	if monthlyDownloads < 0 {
		monthlyDownloads = 0
	}
	storage, bandwidth, total := r.catalog.Price(name, sizeGB, sizeGB*monthlyDownloads)
	return models.CostQuote{Backend: name, StorageCost: storage, BandwidthCost: bandwidth, TotalCost: total}
}

func mb(n int64) float64 {
	return float64(n) / float64(config.MiB)
}
