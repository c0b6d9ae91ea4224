// Package filelock provides flock-based coordination and atomic writes
// for the JSON state files under the umd data directory. Several
// goroutines (and potentially a second umd process) rewrite the same
// ledger files, so every persist goes through a lock plus a
// temp-file-and-rename write.
package filelock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Lock wraps a flock advisory lock on a given path.
type Lock struct {
	fl   *flock.Flock
	path string
}

// New creates a lock for path. The lock file is created on first acquire.
func New(path string) *Lock {
	return &Lock{fl: flock.New(path), path: path}
}

// Acquire blocks until the exclusive lock is held.
func (l *Lock) Acquire() error {
	if err := l.fl.Lock(); err != nil {
		return fmt.Errorf("acquire lock %s: %w", l.path, err)
	}
	return nil
}

// Release drops the lock.
func (l *Lock) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	return nil
}

// WriteAtomic writes data to path via a temp file in the same directory
// followed by a rename, so readers never observe a partial write. The
// parent directory is created if missing.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}

	// Rename is atomic within a filesystem; the temp file lives in the
	// target's directory for exactly this reason.
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file to %s: %w", path, err)
	}

	tmp = nil
	return nil
}

// WriteLocked acquires a ".lock" sibling lock around an atomic write.
func WriteLocked(path string, data []byte) error {
	lock := New(path + ".lock")
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer lock.Release()

	return WriteAtomic(path, data)
}
