package cycle

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileLock is the cross-process cycle lock.
type FileLock struct {
	path string
	lock *flock.Flock
}

// NewFileLock builds a lock on path. The file is created on first use.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path, lock: flock.New(path)}
}

// Path returns the lock file location.
func (l *FileLock) Path() string {
	return l.path
}

// TryLock acquires the lock without waiting.
func (l *FileLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("create lock directory: %w", err)
	}
	ok, err := l.lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	return ok, nil
}

// Unlock releases the lock.
func (l *FileLock) Unlock() error {
	return l.lock.Unlock()
}
