package backend

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"storagetier/internal/catalog"
	"storagetier/internal/config"
	"storagetier/internal/errs"
	"storagetier/internal/metrics"
	"storagetier/internal/models"
	"storagetier/internal/retry"
)

// Registry holds the adapters that initialized successfully, keyed by backend name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.BackendName]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: map[models.BackendName]Adapter{}}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	if a == nil {
		return
	}
	r.mu.Lock()
	r.adapters[a.Name()] = a
	r.mu.Unlock()
}

func (r *Registry) Get(name models.BackendName) (Adapter, error) {
	r.mu.RLock()
	a, ok := r.adapters[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.Configuration("backend.Registry.Get", "backend %s is not configured", name)
	}
	return a, nil
}

func (r *Registry) Has(name models.BackendName) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.adapters[name]
	return ok
}

// Names returns the registered backend names in sorted order.
func (r *Registry) Names() []models.BackendName {
	r.mu.RLock()
	out := make([]models.BackendName, 0, len(r.adapters))
	for name := range r.adapters {
		out = append(out, name)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}

// Health runs every adapter's health check.
func (r *Registry) Health(ctx context.Context) map[models.BackendName]bool {
	out := map[models.BackendName]bool{}
	for _, name := range r.Names() {
		a, err := r.Get(name)
		if err != nil {
			continue
		}
		out[name] = a.HealthCheck(ctx)
	}
	return out
}

type BuildOptions struct {
	Catalog        *catalog.Catalog
	MemoryBackends []string
	CallTimeout    time.Duration
	// MinThroughput is the slowest transfer rate, in bytes per second, a call is given time for.
	MinThroughput int64
	MaxAttempts   int
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
	Now           func() time.Time
}

// Build initializes one adapter per configured provider. A provider that fails to
// initialize is left out and its error returned; the rest stay usable.
func Build(ctx context.Context, backends map[models.BackendName]config.BackendConfig, opts BuildOptions) (*Registry, []error) {
	cat := opts.Catalog
	if cat == nil {
		cat = catalog.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rc := retry.DefaultConfig()
	if opts.MaxAttempts > 0 {
		rc.MaxAttempts = opts.MaxAttempts
	}

	reg := NewRegistry()
	var problems []error

	// Retention sits inside Instrumented so delete audit logs carry its early-deletion verdict.
	wrap := func(a Adapter) Adapter {
		return Instrument(WithRetention(a, logger, opts.Metrics, opts.Now), InstrumentOptions{
			Timeout:       opts.CallTimeout,
			MinThroughput: opts.MinThroughput,
			Retry:         rc,
			Logger:        logger,
			Metrics:       opts.Metrics,
		})
	}

	for _, raw := range opts.MemoryBackends {
		name, err := models.ParseBackendName(raw)
		if err != nil {
			problems = append(problems, errs.Configuration("backend.Build", "memory backend %q: %v", raw, err))
			continue
		}
		profile, _ := cat.Profile(name)
		var memOpts []MemoryOption
		if opts.Now != nil {
			memOpts = append(memOpts, WithMemoryClock(opts.Now))
		}
		reg.Register(wrap(NewMemory(name, profile, memOpts...)))
		logger.Info("memory backend registered", zap.String("backend", string(name)))
	}

	names := make([]models.BackendName, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	for _, name := range names {
		if reg.Has(name) {
			continue
		}
		cfg := backends[name]
		if cfg.Name == "" {
			cfg.Name = name
		}
		profile, ok := cat.Profile(name)
		if !ok {
			problems = append(problems, errs.Configuration("backend.Build", "no cost profile for backend %s", name))
			continue
		}
		a, err := newAdapter(ctx, cfg, profile)
		if err != nil {
			logger.Warn("backend not available", zap.String("backend", string(name)), zap.Error(err))
			problems = append(problems, err)
			continue
		}
		reg.Register(wrap(a))
		logger.Info("backend registered", zap.String("backend", string(name)), zap.String("bucket", cfg.Bucket))
	}
	return reg, problems
}

func newAdapter(ctx context.Context, cfg config.BackendConfig, profile models.BackendCostProfile) (Adapter, error) {
	switch cfg.Name {
	case models.BackendS3, models.BackendR2:
		return NewS3(ctx, cfg, profile)
	case models.BackendB2, models.BackendWasabi:
		return NewMinio(cfg, profile)
	default:
		return nil, errs.Configuration("backend.Build", "unsupported backend %s", cfg.Name)
	}
}
