// Package dirlock provides named, non-blocking, cross-process locks backed by lock files.
package dirlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrLocked is returned when another process (or another handle in this one) holds the lock.
var ErrLocked = errors.New("lock is held")

// Lock is held until Release is called or the process exits.
type Lock struct {
	path string
	f    *os.File
}

// Path returns the lock file for name inside dir. Characters outside [A-Za-z0-9._-] become '_'.
func Path(dir, name string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	return filepath.Join(dir, clean+".lock")
}

// TryAcquire takes the named lock without waiting.
func TryAcquire(dir, name string) (*Lock, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("lock name is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	lockPath := Path(dir, name)
	// #nosec G304 -- lockPath is derived from the configured data directory.
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		if errors.Is(err, ErrLocked) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, lockPath)
		}
		return nil, err
	}

	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	_, _ = fmt.Fprintf(f, "pid=%d\nacquired_at=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	_ = f.Sync()

	return &Lock{path: lockPath, f: f}, nil
}

func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Release unlocks and closes the lock file. Releasing twice is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unlockFile(l.f)
	_ = l.f.Close()
	l.f = nil
	return err
}
