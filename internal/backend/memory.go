package backend

import (
	"context"
	"strconv"
	"sync"
	"time"

	"storagetier/internal/errs"
	"storagetier/internal/models"
)

type memoryObject struct {
	data        []byte
	contentType string
	meta        map[string]string
}

// Memory is an in-process backend for local development and tests.
type Memory struct {
	name    models.BackendName
	profile models.BackendCostProfile
	now     func() time.Time

	mu      sync.RWMutex
	objects map[string]memoryObject
}

type MemoryOption func(*Memory)

func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

func NewMemory(name models.BackendName, profile models.BackendCostProfile, opts ...MemoryOption) *Memory {
	m := &Memory{
		name:    name,
		profile: profile,
		now:     time.Now,
		objects: map[string]memoryObject{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Name() models.BackendName { return m.name }

func (m *Memory) CostProfile() models.BackendCostProfile { return m.profile }

func (m *Memory) Put(ctx context.Context, key string, data []byte, contentType string) (PutResult, error) {
	if err := ctx.Err(); err != nil {
		return PutResult{}, errs.BackendUnavailable("memory.Put", err)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.mu.Lock()
	m.objects[key] = memoryObject{data: buf, contentType: contentType, meta: objectMetadata(data, m.now())}
	m.mu.Unlock()
	return PutResult{URL: m.objectURL(key), Key: key}, nil
}

func (m *Memory) Get(ctx context.Context, key string, expiresIn time.Duration) (GetResult, error) {
	if _, err := m.Stat(ctx, key); err != nil {
		return GetResult{}, err
	}
	expiresAt := m.now().Add(normalizeExpiry(expiresIn)).UTC()
	return GetResult{
		URL:       m.objectURL(key) + "?expires=" + strconv.FormatInt(expiresAt.Unix(), 10),
		ExpiresAt: expiresAt,
	}, nil
}

func (m *Memory) Delete(ctx context.Context, key string) (DeleteResult, error) {
	if err := ctx.Err(); err != nil {
		return DeleteResult{}, errs.BackendUnavailable("memory.Delete", err)
	}
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return DeleteResult{}, nil
}

func (m *Memory) HealthCheck(ctx context.Context) bool {
	return ctx.Err() == nil
}

func (m *Memory) Fetch(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.BackendUnavailable("memory.Fetch", err)
	}
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, errs.NotFound("memory.Fetch", "object %s not found on %s", key, m.name)
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, nil
}

func (m *Memory) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, errs.BackendUnavailable("memory.Stat", err)
	}
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return ObjectInfo{}, errs.NotFound("memory.Stat", "object %s not found on %s", key, m.name)
	}
	return objectInfoFromMetadata(key, int64(len(obj.data)), obj.contentType, obj.meta, time.Time{}), nil
}

// Keys lists stored keys; used by the dev tooling and tests.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	return out
}

func (m *Memory) objectURL(key string) string {
	return "memory://" + string(m.name) + "/" + key
}
