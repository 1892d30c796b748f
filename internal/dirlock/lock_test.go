package dirlock

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestTryAcquireRelease(t *testing.T) {
	dir := t.TempDir()
	l1, err := TryAcquire(dir, "daily-run")
	if err != nil {
		t.Fatalf("TryAcquire 1: %v", err)
	}
	defer func() { _ = l1.Release() }()

	_, err = TryAcquire(dir, "daily-run")
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	other, err := TryAcquire(dir, "cleanup")
	if err != nil {
		t.Fatalf("unrelated name should not conflict: %v", err)
	}
	_ = other.Release()

	if err := l1.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := l1.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}

	l2, err := TryAcquire(dir, "daily-run")
	if err != nil {
		t.Fatalf("TryAcquire after Release: %v", err)
	}
	_ = l2.Release()
}

func TestPathSanitizesName(t *testing.T) {
	got := Path("/data", "storagetier:daily-run/../x")
	want := filepath.Join("/data", "storagetier_daily-run_.._x.lock")
	if got != want {
		t.Fatalf("Path=%q, want %q", got, want)
	}
}

func TestTryAcquireRequiresName(t *testing.T) {
	if _, err := TryAcquire(t.TempDir(), " "); err == nil {
		t.Fatalf("expected error for empty name")
	}
}
