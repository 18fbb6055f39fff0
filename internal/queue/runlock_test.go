package queue

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fixwright/fixwright/internal/errors"
)

func TestRunLockAcquireRelease(t *testing.T) {
	dir := t.TempDir()
	rl := NewRunLock(dir)

	if err := rl.Acquire(); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, lockFileName)); err != nil {
		t.Errorf("lock file not created: %v", err)
	}
	if err := rl.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
}

func TestRunLockSecondHolderRejected(t *testing.T) {
	dir := t.TempDir()

	first := NewRunLock(dir)
	if err := first.Acquire(); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer func() { _ = first.Release() }()

	// flock is per file description, so a second descriptor in the same
	// process models a second process.
	second := NewRunLock(dir)
	if err := second.Acquire(); !errors.Is(err, errors.ErrRunLocked) {
		t.Errorf("second Acquire() error = %v, want ErrRunLocked", err)
	}
}

func TestRunLockReacquireAfterRelease(t *testing.T) {
	dir := t.TempDir()

	first := NewRunLock(dir)
	if err := first.Acquire(); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	second := NewRunLock(dir)
	if err := second.Acquire(); err != nil {
		t.Errorf("Acquire() after release error = %v", err)
	}
	_ = second.Release()
}

func TestRunLockReleaseWithoutAcquire(t *testing.T) {
	rl := NewRunLock(t.TempDir())
	if err := rl.Release(); err != nil {
		t.Errorf("Release() without Acquire error = %v", err)
	}
}
