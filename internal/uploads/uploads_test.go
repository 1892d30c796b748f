package uploads

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storagetier/internal/backend"
	"storagetier/internal/catalog"
	"storagetier/internal/config"
	"storagetier/internal/db"
	"storagetier/internal/errs"
	"storagetier/internal/models"
	"storagetier/internal/router"
	"storagetier/internal/store"
)

func newService(t *testing.T, names ...models.BackendName) (*Service, *store.Store) {
	t.Helper()
	gormDB, err := db.Open(db.Config{Backend: db.BackendSQLite, SQLitePath: filepath.Join(t.TempDir(), "tier.db")})
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	st, err := store.New(gormDB, store.Options{})
	require.NoError(t, err)

	cat := catalog.Default()
	reg := backend.NewRegistry()
	for _, n := range names {
		p, _ := cat.Profile(n)
		reg.Register(backend.NewMemory(n, p))
	}
	r := router.New(reg, cat, router.Options{Environment: config.EnvironmentProduction, AssumedMonthlyDownloads: 10})
	return NewService(Config{Router: r, Backends: reg, Tracker: st}), st
}

func TestUploadRegistersHotPackage(t *testing.T) {
	svc, st := newService(t, models.BackendS3, models.BackendR2)
	ctx := context.Background()

	res, err := svc.Upload(ctx, UploadRequest{
		RouteContext: models.RouteContext{UploadSource: models.UploadSourceAgent, PackageType: "vector"},
		PackageID:    "vec-1",
		ContentType:  "application/json",
		Data:         []byte(`{"dims":768}`),
	})
	require.NoError(t, err)
	assert.Equal(t, models.BackendR2, res.Backend)
	assert.Equal(t, "packages/vector/vec-1", res.Key)
	assert.Equal(t, int64(12), res.SizeBytes)
	assert.Equal(t, backend.Checksum([]byte(`{"dims":768}`)), res.Checksum)

	info, err := st.TierInfo(ctx, "vec-1", "vector")
	require.NoError(t, err)
	assert.Equal(t, models.TierHot, info.CurrentTier)
	assert.Equal(t, models.BackendR2, info.CurrentBackend)
	assert.Equal(t, res.Checksum, info.Checksum)
}

func TestUploadRejectsBadIdentifiers(t *testing.T) {
	svc, _ := newService(t, models.BackendS3)
	_, err := svc.Upload(context.Background(), UploadRequest{PackageID: "a/b", RouteContext: models.RouteContext{PackageType: "model"}})
	assert.True(t, errs.IsInvalid(err))
}

func TestUploadWithoutBackends(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Upload(context.Background(), UploadRequest{
		RouteContext: models.RouteContext{UploadSource: models.UploadSourceUser, PackageType: "model"},
		PackageID:    "m-1",
		Data:         []byte("x"),
	})
	assert.True(t, errs.IsConfiguration(err))
}

func TestDownloadURLRecordsAccess(t *testing.T) {
	svc, st := newService(t, models.BackendS3)
	ctx := context.Background()
	_, err := svc.Upload(ctx, UploadRequest{
		RouteContext: models.RouteContext{UploadSource: models.UploadSourceUser, PackageType: "model"},
		PackageID:    "m-1",
		Data:         []byte("weights"),
	})
	require.NoError(t, err)

	url, err := svc.DownloadURL(ctx, "m-1", "model", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, models.BackendS3, url.Backend)
	assert.True(t, strings.HasPrefix(url.URL, "memory://s3/packages/model/m-1"))
	assert.NotEmpty(t, url.ExpiresAt)

	info, err := st.TierInfo(ctx, "m-1", "model")
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.AccessCount)

	_, err = svc.DownloadURL(ctx, "missing", "model", 0)
	assert.True(t, errs.IsNotFound(err))
}

func TestUploadRefusedWhileMigrationActive(t *testing.T) {
	svc, st := newService(t, models.BackendS3, models.BackendWasabi)
	ctx := context.Background()
	req := UploadRequest{
		RouteContext: models.RouteContext{UploadSource: models.UploadSourceUser, PackageType: "model"},
		PackageID:    "m-1",
		Data:         []byte("weights-v1"),
	}
	_, err := svc.Upload(ctx, req)
	require.NoError(t, err)

	task, _, err := st.CreateMigrationTask(ctx, store.CreateTaskInput{
		PackageID: "m-1", PackageType: "model",
		FromBackend: models.BackendS3, ToBackend: models.BackendWasabi,
		FromTier: models.TierHot, ToTier: models.TierCold,
	})
	require.NoError(t, err)

	req.Data = []byte("weights-v2")
	_, err = svc.Upload(ctx, req)
	assert.True(t, errs.IsConflict(err), "got %v", err)
	info, err := st.TierInfo(ctx, "m-1", "model")
	require.NoError(t, err)
	assert.Equal(t, backend.Checksum([]byte("weights-v1")), info.Checksum)

	ok, err := st.TransitionTask(ctx, task.ID, models.MigrationPending, models.MigrationFailed, nil)
	require.NoError(t, err)
	require.True(t, ok)
	res, err := svc.Upload(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, backend.Checksum([]byte("weights-v2")), res.Checksum)
}

func TestReuploadToAnotherBackendSchedulesOldCopyForDeletion(t *testing.T) {
	svc, st := newService(t, models.BackendS3, models.BackendR2)
	ctx := context.Background()
	_, err := svc.Upload(ctx, UploadRequest{
		RouteContext: models.RouteContext{UploadSource: models.UploadSourceAgent, PackageType: "vector"},
		PackageID:    "vec-1",
		Data:         []byte("v1"),
	})
	require.NoError(t, err)

	res, err := svc.Upload(ctx, UploadRequest{
		RouteContext: models.RouteContext{UploadSource: models.UploadSourceUser, PackageType: "vector"},
		PackageID:    "vec-1",
		Data:         []byte("v2"),
	})
	require.NoError(t, err)
	require.Equal(t, models.BackendS3, res.Backend)

	due, err := st.DueSourceCleanups(ctx, time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, models.BackendR2, due[0].Backend)
	assert.Equal(t, "packages/vector/vec-1", due[0].ObjectKey)
	assert.Nil(t, due[0].TaskID)
}
