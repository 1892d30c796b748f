package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"storagetier/internal/db"
	"storagetier/internal/errs"
	"storagetier/internal/models"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) (*Store, *testClock) {
	t.Helper()
	gormDB, err := db.Open(db.Config{
		Backend:    db.BackendSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "tier.db"),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		t.Fatalf("open sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	clock := &testClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	st, err := New(gormDB, Options{Now: clock.Now})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return st, clock
}

func registerPackage(t *testing.T, st *Store, id string, tier models.DataTier, backend models.BackendName) {
	t.Helper()
	_, err := st.RegisterPackage(context.Background(), RegisterPackageInput{
		PackageID:   id,
		PackageType: "model",
		Tier:        tier,
		Backend:     backend,
		ObjectKey:   "packages/model/" + id,
		SizeBytes:   1 << 20,
		Checksum:    "abc",
	})
	if err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
}

func TestRegisterPackageAndRecordAccess(t *testing.T) {
	st, clock := newTestStore(t)
	ctx := context.Background()
	registerPackage(t, st, "pkg-1", models.TierHot, models.BackendR2)

	clock.Advance(time.Hour)
	if err := st.RecordAccess(ctx, "pkg-1", "model"); err != nil {
		t.Fatalf("record access: %v", err)
	}
	if err := st.RecordAccess(ctx, "pkg-1", "model"); err != nil {
		t.Fatalf("record access: %v", err)
	}

	info, err := st.TierInfo(ctx, "pkg-1", "model")
	if err != nil {
		t.Fatalf("tier info: %v", err)
	}
	if info.AccessCount != 2 {
		t.Fatalf("AccessCount=%d, want 2", info.AccessCount)
	}
	if info.LastAccessAt != FormatTime(clock.Now()) {
		t.Fatalf("LastAccessAt=%q", info.LastAccessAt)
	}
	if info.CurrentBackend != models.BackendR2 || info.Checksum != "abc" {
		t.Fatalf("unexpected info: %+v", info)
	}

	if err := st.RecordAccess(ctx, "missing", "model"); !errs.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := st.TierInfo(ctx, "missing", "model"); !errs.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateTierAssignmentKeepsSinglePlacement(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	registerPackage(t, st, "pkg-1", models.TierHot, models.BackendR2)
	info, err := st.TierInfo(ctx, "pkg-1", "model")
	if err != nil {
		t.Fatalf("tier info: %v", err)
	}

	if err := st.UpdateTierAssignment(ctx, info, models.TierCold, models.BackendWasabi); err != nil {
		t.Fatalf("update: %v", err)
	}
	usage, err := st.TierBackendUsage(ctx)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if len(usage) != 1 || usage[0].Tier != models.TierCold || usage[0].Backend != models.BackendWasabi || usage[0].PackageCount != 1 {
		t.Fatalf("unexpected usage: %+v", usage)
	}
	if usage[0].TotalBytes != 1<<20 {
		t.Fatalf("TotalBytes=%d", usage[0].TotalBytes)
	}
}

func TestUpdateTierAssignmentRejectsChangedPlacement(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	registerPackage(t, st, "pkg-1", models.TierHot, models.BackendR2)
	stale, err := st.TierInfo(ctx, "pkg-1", "model")
	if err != nil {
		t.Fatalf("tier info: %v", err)
	}

	// Re-uploaded with new bytes after the placement was read.
	if _, err := st.RegisterPackage(ctx, RegisterPackageInput{
		PackageID: "pkg-1", PackageType: "model", Tier: models.TierHot, Backend: models.BackendR2,
		ObjectKey: "packages/model/pkg-1", SizeBytes: 10, Checksum: "def",
	}); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	err = st.UpdateTierAssignment(ctx, stale, models.TierCold, models.BackendWasabi)
	if !errs.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	info, err := st.TierInfo(ctx, "pkg-1", "model")
	if err != nil {
		t.Fatalf("tier info: %v", err)
	}
	if info.CurrentBackend != models.BackendR2 || info.Checksum != "def" {
		t.Fatalf("placement overwritten: %+v", info)
	}

	stale.PackageID = "missing"
	if err := st.UpdateTierAssignment(ctx, stale, models.TierCold, models.BackendWasabi); !errs.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRegisterPackageSupersedesPreviousPlacement(t *testing.T) {
	st, clock := newTestStore(t)
	ctx := context.Background()
	registerPackage(t, st, "pkg-1", models.TierCold, models.BackendWasabi)
	if err := st.RecordAccess(ctx, "pkg-1", "model"); err != nil {
		t.Fatalf("record access: %v", err)
	}

	// Same backend and key: overwritten in place, nothing to clean up.
	registerPackage(t, st, "pkg-1", models.TierHot, models.BackendWasabi)
	due, err := st.DueSourceCleanups(ctx, clock.Now(), 10)
	if err != nil || len(due) != 0 {
		t.Fatalf("in-place re-upload scheduled a cleanup: %+v err=%v", due, err)
	}

	if err := st.RecordAccess(ctx, "pkg-1", "model"); err != nil {
		t.Fatalf("record access: %v", err)
	}
	clock.Advance(time.Minute)
	registerPackage(t, st, "pkg-1", models.TierHot, models.BackendR2)

	info, err := st.TierInfo(ctx, "pkg-1", "model")
	if err != nil {
		t.Fatalf("tier info: %v", err)
	}
	if info.CurrentBackend != models.BackendR2 || info.AccessCount != 0 || info.LastAccessAt != FormatTime(clock.Now()) {
		t.Fatalf("re-upload did not reset placement and access: %+v", info)
	}

	due, err = st.DueSourceCleanups(ctx, clock.Now(), 10)
	if err != nil || len(due) != 1 {
		t.Fatalf("expected one superseded copy: %+v err=%v", due, err)
	}
	c := due[0]
	if c.TaskID != nil || c.Backend != models.BackendWasabi || c.ObjectKey != "packages/model/pkg-1" || c.PackageID != "pkg-1" {
		t.Fatalf("unexpected cleanup: %+v", c)
	}
}

func TestPackagesNeedingMigration(t *testing.T) {
	st, clock := newTestStore(t)
	ctx := context.Background()
	start := clock.Now()

	registerPackage(t, st, "fresh", models.TierHot, models.BackendR2)
	registerPackage(t, st, "stale", models.TierHot, models.BackendR2)
	registerPackage(t, st, "revived", models.TierCold, models.BackendWasabi)
	registerPackage(t, st, "settled", models.TierWarm, models.BackendB2)

	if err := st.SetLastAccess(ctx, "stale", "model", start.Add(-100*24*time.Hour), 12); err != nil {
		t.Fatalf("set last access: %v", err)
	}
	if err := st.SetLastAccess(ctx, "settled", "model", start.Add(-30*24*time.Hour), 1); err != nil {
		t.Fatalf("set last access: %v", err)
	}

	candidates, err := st.PackagesNeedingMigration(ctx)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	got := map[string]models.MigrationCandidate{}
	for _, c := range candidates {
		got[c.PackageID] = c
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %+v", candidates)
	}
	if c := got["stale"]; c.RecommendedTier != models.TierCold || c.DaysSinceAccess != 100 {
		t.Fatalf("stale candidate: %+v", c)
	}
	if c := got["revived"]; c.RecommendedTier != models.TierHot || c.CurrentTier != models.TierCold {
		t.Fatalf("revived candidate: %+v", c)
	}
}

func TestRecommendedTierBoundaries(t *testing.T) {
	cases := map[int]models.DataTier{0: models.TierHot, 7: models.TierHot, 8: models.TierWarm, 90: models.TierWarm, 91: models.TierCold}
	for days, want := range cases {
		if got := RecommendedTier(days); got != want {
			t.Fatalf("RecommendedTier(%d)=%s, want %s", days, got, want)
		}
	}
}

func TestCreateMigrationTaskDedupesActivePackage(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	in := CreateTaskInput{
		PackageID: "pkg-1", PackageType: "model",
		FromBackend: models.BackendR2, ToBackend: models.BackendWasabi,
		FromTier: models.TierHot, ToTier: models.TierCold,
		Priority: 150, EstimatedSavings: 0.4,
	}

	first, created, err := st.CreateMigrationTask(ctx, in)
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	second, created, err := st.CreateMigrationTask(ctx, in)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("expected existing task %s, got %s (created=%v)", first.ID, second.ID, created)
	}

	if ok, err := st.TransitionTask(ctx, first.ID, models.MigrationPending, models.MigrationFailed, nil); err != nil || !ok {
		t.Fatalf("fail task: ok=%v err=%v", ok, err)
	}
	third, created, err := st.CreateMigrationTask(ctx, in)
	if err != nil || !created || third.ID == first.ID {
		t.Fatalf("expected a new task after failure: %+v created=%v err=%v", third, created, err)
	}
}

func TestClaimPendingTasksIsExclusiveAndOrdered(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	for i, priority := range []int{10, 300, 120, 50, 200, 90} {
		_, _, err := st.CreateMigrationTask(ctx, CreateTaskInput{
			PackageID: "pkg-" + string(rune('a'+i)), PackageType: "model",
			FromBackend: models.BackendR2, ToBackend: models.BackendWasabi,
			FromTier: models.TierHot, ToTier: models.TierCold,
			Priority: priority,
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	first, err := st.ClaimPendingTasks(ctx, 2)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(first) != 2 || first[0].Priority != 300 || first[1].Priority != 200 {
		t.Fatalf("unexpected first claim: %+v", first)
	}
	for _, task := range first {
		if task.Status != models.MigrationProcessing || task.StartedAt == nil {
			t.Fatalf("claimed task not processing: %+v", task)
		}
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]int{}
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tasks, err := st.ClaimPendingTasks(ctx, 6)
			if err != nil {
				t.Errorf("concurrent claim: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, task := range tasks {
				seen[task.ID]++
			}
		}()
	}
	wg.Wait()
	if len(seen) != 4 {
		t.Fatalf("expected remaining 4 tasks to be claimed once, got %v", seen)
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("task %s claimed %d times", id, n)
		}
	}

	counts, err := st.CountTasksByStatus(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts[models.MigrationProcessing] != 6 || counts[models.MigrationPending] != 0 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestClaimPendingTasksHonorsGlobalProcessingBound(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 10; i++ {
		task, _, err := st.CreateMigrationTask(ctx, CreateTaskInput{
			PackageID: "pkg-" + string(rune('a'+i)), PackageType: "model",
			FromBackend: models.BackendR2, ToBackend: models.BackendWasabi,
			FromTier: models.TierHot, ToTier: models.TierCold,
			Priority: 100 + i,
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, task.ID)
	}

	// Several replicas with a bound of 2 race for the same queue.
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tasks, err := st.ClaimPendingTasks(ctx, 2)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			mu.Lock()
			total += len(tasks)
			mu.Unlock()
		}()
	}
	wg.Wait()
	if total != 2 {
		t.Fatalf("claimed %d tasks with a bound of 2", total)
	}

	// A single-task claim goes through the same bound.
	if ok, err := st.ClaimTask(ctx, ids[0], 2); err != nil || ok {
		t.Fatalf("ClaimTask with no free slot: ok=%v err=%v", ok, err)
	}
	if ok, err := st.ClaimTask(ctx, ids[0], 3); err != nil || !ok {
		t.Fatalf("ClaimTask with a free slot: ok=%v err=%v", ok, err)
	}
	if ok, err := st.ClaimTask(ctx, ids[0], 10); err != nil || ok {
		t.Fatalf("ClaimTask on a processing task: ok=%v err=%v", ok, err)
	}

	counts, err := st.CountTasksByStatus(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts[models.MigrationProcessing] != 3 {
		t.Fatalf("processing=%d, want 3", counts[models.MigrationProcessing])
	}
}

func TestTransitionTaskIsMonotonic(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	task, _, err := st.CreateMigrationTask(ctx, CreateTaskInput{
		PackageID: "pkg-1", PackageType: "model",
		FromBackend: models.BackendR2, ToBackend: models.BackendB2,
		FromTier: models.TierHot, ToTier: models.TierWarm,
		Priority: 40, EstimatedSavings: 1.25,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := st.TransitionTask(ctx, task.ID, models.MigrationCompleted, models.MigrationPending, nil); !errs.IsInvalid(err) {
		t.Fatalf("expected invalid transition error, got %v", err)
	}
	if ok, _ := st.TransitionTask(ctx, task.ID, models.MigrationProcessing, models.MigrationCompleted, nil); ok {
		t.Fatalf("pending task must not complete directly")
	}
	if ok, err := st.TransitionTask(ctx, task.ID, models.MigrationPending, models.MigrationProcessing, nil); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	if ok, _ := st.TransitionTask(ctx, task.ID, models.MigrationPending, models.MigrationProcessing, nil); ok {
		t.Fatalf("second claim must lose")
	}

	cleanup := &models.SourceCleanup{PackageID: "pkg-1", PackageType: "model", Backend: models.BackendR2, ObjectKey: "packages/model/pkg-1", DeleteAfter: FormatTime(st.Now().Add(time.Hour))}
	if ok, err := st.CompleteTask(ctx, task.ID, cleanup); err != nil || !ok {
		t.Fatalf("complete: ok=%v err=%v", ok, err)
	}
	if ok, _ := st.TransitionTask(ctx, task.ID, models.MigrationProcessing, models.MigrationFailed, nil); ok {
		t.Fatalf("completed task must stay completed")
	}

	got, err := st.GetMigrationTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.MigrationCompleted || got.CompletedAt == nil || got.StartedAt == nil {
		t.Fatalf("unexpected task: %+v", got)
	}
	savings, err := st.CompletedSavings(ctx)
	if err != nil || savings != 1.25 {
		t.Fatalf("CompletedSavings=%v err=%v", savings, err)
	}
}

func TestSourceCleanupsBecomeDue(t *testing.T) {
	st, clock := newTestStore(t)
	ctx := context.Background()
	task, _, _ := st.CreateMigrationTask(ctx, CreateTaskInput{
		PackageID: "pkg-1", PackageType: "model",
		FromBackend: models.BackendS3, ToBackend: models.BackendWasabi,
		FromTier: models.TierHot, ToTier: models.TierCold,
	})
	if _, err := st.TransitionTask(ctx, task.ID, models.MigrationPending, models.MigrationProcessing, nil); err != nil {
		t.Fatalf("claim: %v", err)
	}
	cleanup := &models.SourceCleanup{PackageID: "pkg-1", PackageType: "model", Backend: models.BackendS3, ObjectKey: "k", DeleteAfter: FormatTime(clock.Now().Add(24 * time.Hour))}
	if _, err := st.CompleteTask(ctx, task.ID, cleanup); err != nil {
		t.Fatalf("complete: %v", err)
	}

	due, err := st.DueSourceCleanups(ctx, clock.Now(), 10)
	if err != nil || len(due) != 0 {
		t.Fatalf("nothing should be due yet: %+v err=%v", due, err)
	}
	clock.Advance(25 * time.Hour)
	due, err = st.DueSourceCleanups(ctx, clock.Now(), 10)
	if err != nil || len(due) != 1 || due[0].TaskID == nil || *due[0].TaskID != task.ID {
		t.Fatalf("expected due cleanup: %+v err=%v", due, err)
	}
	if due[0].PackageID != "pkg-1" || due[0].ID == "" {
		t.Fatalf("cleanup lost its package: %+v", due[0])
	}

	if err := st.MarkSourceCleanupFailed(ctx, due[0].ID, "timeout"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := st.MarkSourceDeleted(ctx, due[0].ID); err != nil {
		t.Fatalf("mark deleted: %v", err)
	}
	due, _ = st.DueSourceCleanups(ctx, clock.Now(), 10)
	if len(due) != 0 {
		t.Fatalf("deleted cleanup still due: %+v", due)
	}
}

func TestFailStaleProcessing(t *testing.T) {
	st, clock := newTestStore(t)
	ctx := context.Background()
	task, _, _ := st.CreateMigrationTask(ctx, CreateTaskInput{
		PackageID: "pkg-1", PackageType: "model",
		FromBackend: models.BackendR2, ToBackend: models.BackendB2,
		FromTier: models.TierHot, ToTier: models.TierWarm,
	})
	if _, err := st.ClaimPendingTasks(ctx, 1); err != nil {
		t.Fatalf("claim: %v", err)
	}

	n, err := st.FailStaleProcessing(ctx, clock.Now().Add(-time.Hour), "lease expired")
	if err != nil || n != 0 {
		t.Fatalf("fresh task must not be failed: n=%d err=%v", n, err)
	}
	clock.Advance(2 * time.Hour)
	n, err = st.FailStaleProcessing(ctx, clock.Now().Add(-time.Hour), "lease expired")
	if err != nil || n != 1 {
		t.Fatalf("expected 1 stale task: n=%d err=%v", n, err)
	}
	got, _ := st.GetMigrationTask(ctx, task.ID)
	if got.Status != models.MigrationFailed || got.ErrorMessage == nil || *got.ErrorMessage != "lease expired" {
		t.Fatalf("unexpected task: %+v", got)
	}
}

func TestListMigrationTasksFiltersAndCursor(t *testing.T) {
	st, clock := newTestStore(t)
	ctx := context.Background()
	var ids []string
	for _, id := range []string{"a", "b", "c"} {
		task, _, err := st.CreateMigrationTask(ctx, CreateTaskInput{
			PackageID: id, PackageType: "model",
			FromBackend: models.BackendR2, ToBackend: models.BackendB2,
			FromTier: models.TierHot, ToTier: models.TierWarm,
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, task.ID)
		clock.Advance(time.Millisecond)
		time.Sleep(2 * time.Millisecond)
	}

	page, err := st.ListMigrationTasks(ctx, models.MigrationTaskFilter{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == nil {
		t.Fatalf("unexpected first page: %+v", page)
	}
	if page.Items[0].ID != ids[2] || page.Items[1].ID != ids[1] {
		t.Fatalf("expected newest first: %+v", page.Items)
	}
	next, err := st.ListMigrationTasks(ctx, models.MigrationTaskFilter{Limit: 2, Cursor: page.NextCursor})
	if err != nil || len(next.Items) != 1 || next.Items[0].ID != ids[0] || next.NextCursor != nil {
		t.Fatalf("unexpected second page: %+v err=%v", next, err)
	}

	pending := models.MigrationPending
	filtered, err := st.ListMigrationTasks(ctx, models.MigrationTaskFilter{Status: &pending, PackageID: "b"})
	if err != nil || len(filtered.Items) != 1 || filtered.Items[0].PackageID != "b" {
		t.Fatalf("unexpected filtered list: %+v err=%v", filtered, err)
	}
}

func TestUpsertCostMetricsReplacesSameDay(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	row := models.StorageCostMetrics{
		Date: "2024-06-01", Tier: models.TierHot, Backend: models.BackendR2,
		StorageGB: 10, DownloadGB: 10, StorageCost: 0.15, TotalCost: 0.15, PackageCount: 200,
	}
	if err := st.UpsertCostMetrics(ctx, row); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	row.StorageGB = 12
	row.TotalCost = 0.18
	if err := st.UpsertCostMetrics(ctx, row); err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	older := row
	older.Date = "2024-04-01"
	if err := st.UpsertCostMetrics(ctx, older); err != nil {
		t.Fatalf("upsert older: %v", err)
	}

	rows, err := st.ListCostMetricsSince(ctx, "2024-05-02")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || rows[0].StorageGB != 12 || rows[0].TotalCost != 0.18 {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}
