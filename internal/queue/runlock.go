package queue

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/fixwright/fixwright/internal/errors"
)

const lockFileName = "fixwright.lock"

// RunLock guards a run directory with flock(2) so two fixwright
// processes never drive the same backlog concurrently.
type RunLock struct {
	path string
	file *os.File
}

// NewRunLock creates a RunLock for the given run directory. The lock
// file is created inside dir. Call Acquire and Release around the run.
func NewRunLock(dir string) *RunLock {
	return &RunLock{path: filepath.Join(dir, lockFileName)}
}

// Acquire takes the lock without blocking. A second process gets
// ErrRunLocked immediately rather than queueing behind a run that may
// last hours.
func (rl *RunLock) Acquire() error {
	f, err := os.OpenFile(rl.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if err == syscall.EWOULDBLOCK {
			return fmt.Errorf("%w: %s", errors.ErrRunLocked, rl.path)
		}
		return fmt.Errorf("flock: %w", err)
	}

	rl.file = f
	return nil
}

// Release unlocks and closes the lock file. Safe to call when the lock
// was never acquired.
func (rl *RunLock) Release() error {
	if rl.file == nil {
		return nil
	}

	if err := syscall.Flock(int(rl.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = rl.file.Close()
		rl.file = nil
		return fmt.Errorf("funlock: %w", err)
	}

	err := rl.file.Close()
	rl.file = nil
	return err
}
