package backend

import (
	"context"
	"time"

	"go.uber.org/zap"

	"storagetier/internal/errs"
	"storagetier/internal/metrics"
	"storagetier/internal/models"
	"storagetier/internal/retry"
)

type InstrumentOptions struct {
	// Timeout bounds each attempt; zero disables it.
	Timeout time.Duration
	// MinThroughput in bytes per second stretches the timeout for object transfers: an attempt
	// moving n bytes gets Timeout + n/MinThroughput. Zero keeps the flat Timeout.
	MinThroughput int64
	Retry         retry.Config
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
}

// Instrumented adds per-call timeouts, retries, logging and metrics to an Adapter.
type Instrumented struct {
	inner         Adapter
	timeout       time.Duration
	minThroughput int64
	retryer       *retry.Retryer
	logger        *zap.Logger
	metrics       *metrics.Metrics
}

func Instrument(a Adapter, opts InstrumentOptions) *Instrumented {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("backend", string(a.Name())))
	rc := opts.Retry
	if rc.OnRetry == nil {
		rc.OnRetry = func(attempt int, err error, delay time.Duration) {
			logger.Warn("backend call failed, retrying", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		}
	}
	return &Instrumented{
		inner:         a,
		timeout:       opts.Timeout,
		minThroughput: opts.MinThroughput,
		retryer:       retry.New(rc),
		logger:        logger,
		metrics:       opts.Metrics,
	}
}

func (i *Instrumented) Name() models.BackendName { return i.inner.Name() }

func (i *Instrumented) CostProfile() models.BackendCostProfile { return i.inner.CostProfile() }

// Unwrap returns the decorated adapter.
func (i *Instrumented) Unwrap() Adapter { return i.inner }

func (i *Instrumented) Put(ctx context.Context, key string, data []byte, contentType string) (PutResult, error) {
	var out PutResult
	err := i.call(ctx, "put", int64(len(data)), func(ctx context.Context) error {
		var err error
		out, err = i.inner.Put(ctx, key, data, contentType)
		return err
	})
	if err != nil {
		i.logger.Error("put failed", zap.String("key", key), zap.Int("bytes", len(data)), zap.Error(err))
		return PutResult{}, err
	}
	i.logger.Info("object stored", zap.String("key", key), zap.Int("bytes", len(data)))
	return out, nil
}

func (i *Instrumented) Get(ctx context.Context, key string, expiresIn time.Duration) (GetResult, error) {
	var out GetResult
	err := i.call(ctx, "get", 0, func(ctx context.Context) error {
		var err error
		out, err = i.inner.Get(ctx, key, expiresIn)
		return err
	})
	return out, err
}

func (i *Instrumented) Delete(ctx context.Context, key string) (DeleteResult, error) {
	size, known := int64(0), false
	if _, ok := i.inner.(*Retention); !ok {
		// Retention stats the object itself and reports the size.
		size, known = i.sizeOf(ctx, key)
	}
	var out DeleteResult
	err := i.call(ctx, "delete", 0, func(ctx context.Context) error {
		var err error
		out, err = i.inner.Delete(ctx, key)
		return err
	})
	if err != nil {
		i.logger.Error("delete failed", zap.String("key", key), zap.Error(err))
		return DeleteResult{}, err
	}
	if out.SizeBytes > 0 {
		size, known = out.SizeBytes, true
	}
	out.SizeBytes = size
	fields := []zap.Field{zap.String("key", key), zap.Bool("early_deletion", out.EarlyDeletion)}
	if known {
		fields = append(fields, zap.Int64("bytes", size))
	}
	i.logger.Info("object deleted", fields...)
	return out, nil
}

func (i *Instrumented) HealthCheck(ctx context.Context) bool {
	start := time.Now()
	ctx, cancel := i.withTimeout(ctx, 0)
	defer cancel()
	ok := i.inner.HealthCheck(ctx)
	outcome := "ok"
	if !ok {
		outcome = "unhealthy"
	}
	i.metrics.ObserveBackendCall(string(i.Name()), "health", outcome, time.Since(start))
	return ok
}

func (i *Instrumented) Fetch(ctx context.Context, key string) ([]byte, error) {
	// An unknown size falls back to the flat timeout; a missing object fails in Fetch itself.
	size, _ := i.sizeOf(ctx, key)
	var out []byte
	err := i.call(ctx, "fetch", size, func(ctx context.Context) error {
		var err error
		out, err = i.inner.Fetch(ctx, key)
		return err
	})
	return out, err
}

func (i *Instrumented) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	var out ObjectInfo
	err := i.call(ctx, "stat", 0, func(ctx context.Context) error {
		var err error
		out, err = i.inner.Stat(ctx, key)
		return err
	})
	return out, err
}

// sizeOf is a single Stat attempt used to size deadlines and audit logs.
func (i *Instrumented) sizeOf(ctx context.Context, key string) (int64, bool) {
	ctx, cancel := i.withTimeout(ctx, 0)
	defer cancel()
	info, err := i.inner.Stat(ctx, key)
	if err != nil {
		return 0, false
	}
	return info.Size, true
}

// call runs fn with retries; size is the number of bytes the call moves, 0 for metadata calls.
func (i *Instrumented) call(ctx context.Context, op string, size int64, fn func(context.Context) error) error {
	start := time.Now()
	err := i.retryer.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := i.withTimeout(ctx, size)
		defer cancel()
		err := fn(ctx)
		if err != nil && errs.KindOf(err) == "" {
			// Timeouts and transport errors from the SDKs arrive unclassified.
			err = errs.BackendUnavailable(string(i.Name())+"."+op, err)
		}
		return err
	})
	outcome := "ok"
	if err != nil {
		outcome = string(errs.KindOf(err))
	}
	i.metrics.ObserveBackendCall(string(i.Name()), op, outcome, time.Since(start))
	return err
}

// attemptTimeout is the deadline for one attempt moving size bytes.
func (i *Instrumented) attemptTimeout(size int64) time.Duration {
	if i.timeout <= 0 {
		return 0
	}
	if size <= 0 || i.minThroughput <= 0 {
		return i.timeout
	}
	return i.timeout + time.Duration(float64(size)/float64(i.minThroughput)*float64(time.Second))
}

func (i *Instrumented) withTimeout(ctx context.Context, size int64) (context.Context, context.CancelFunc) {
	timeout := i.attemptTimeout(size)
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
