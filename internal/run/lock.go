package run

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// Lock serializes runs that share a state directory.
type Lock struct {
	file *os.File
}

func openLockFile(stateDir string) (*os.File, error) {
	locksDir := filepath.Join(stateDir, "locks")
	if err := os.MkdirAll(locksDir, 0o755); err != nil {
		return nil, fmt.Errorf("create locks dir: %w", err)
	}
	file, err := os.OpenFile(filepath.Join(locksDir, "run.lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return file, nil
}

// AcquireLock blocks until <stateDir>/locks/run.lock is held.
func AcquireLock(stateDir string) (*Lock, error) {
	file, err := openLockFile(stateDir)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("lock run.lock: %w", err)
	}
	return &Lock{file: file}, nil
}

// TryAcquireLock takes the lock without blocking. ok is false when another run holds it.
func TryAcquireLock(stateDir string) (lock *Lock, ok bool, err error) {
	file, err := openLockFile(stateDir)
	if err != nil {
		return nil, false, err
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = file.Close()
		return nil, false, nil
	}
	return &Lock{file: file}, true, nil
}

// Release releases the lock. A nil Lock is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = l.file.Close()
		return err
	}
	return l.file.Close()
}
