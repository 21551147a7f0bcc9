package storage

import (
	"fmt"
	"os"
	"sync"
	"syscall"
)

const lockSuffix = ".lock"

// FileLock serializes writers of one storage file, both within this
// process (mutex) and across processes (flock on a sidecar .lock file).
// A second CLI or a watch daemon writing the same session directory
// contends on the flock rather than corrupting the value.
type FileLock struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// NewFileLock creates a lock guarding the file at path.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Lock acquires the lock, blocking until it is available.
func (l *FileLock) Lock() error {
	l.mu.Lock()

	var err error
	l.file, err = os.OpenFile(l.path+lockSuffix, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		l.mu.Unlock()
		return fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_EX); err != nil {
		l.file.Close()
		l.file = nil
		l.mu.Unlock()
		return fmt.Errorf("failed to flock: %w", err)
	}

	return nil
}

// TryLock attempts to acquire the lock without blocking and reports
// whether it succeeded.
func (l *FileLock) TryLock() bool {
	if !l.mu.TryLock() {
		return false
	}

	var err error
	l.file, err = os.OpenFile(l.path+lockSuffix, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		l.mu.Unlock()
		return false
	}

	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		l.file.Close()
		l.file = nil
		l.mu.Unlock()
		return false
	}

	return true
}

// Unlock releases the lock. Calling Unlock on an unheld lock is a no-op.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}

	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	l.file.Close()
	os.Remove(l.path + lockSuffix)

	l.file = nil
	l.mu.Unlock()

	return nil
}
