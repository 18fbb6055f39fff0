// Package sem provides a counting semaphore with FIFO waiter ordering,
// used to bound how many worker sessions run at once.
package sem

import (
	"container/list"
	"context"
	"sync"
)

// Semaphore is a counting semaphore. Waiters are granted permits in the
// order they called Acquire, so a burst of dispatches cannot starve an
// early caller.
type Semaphore struct {
	mu      sync.Mutex
	size    int
	held    int
	waiters *list.List // of chan struct{}
}

// New creates a semaphore with the given number of permits. Panics if
// size is not positive.
func New(size int) *Semaphore {
	if size <= 0 {
		panic("sem: size must be positive")
	}
	return &Semaphore{
		size:    size,
		waiters: list.New(),
	}
}

// Acquire blocks until a permit is available or ctx is done. On success
// the caller owns one permit and must Release it exactly once.
func (s *Semaphore) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.held < s.size && s.waiters.Len() == 0 {
		s.held++
		s.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	elem := s.waiters.PushBack(ready)
	s.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		select {
		case <-ready:
			// The permit was granted while we were cancelling; pass
			// it to the next waiter rather than leak it.
			s.mu.Unlock()
			s.Release()
			return ctx.Err()
		default:
		}
		s.waiters.Remove(elem)
		s.mu.Unlock()
		return ctx.Err()
	}
}

// TryAcquire takes a permit without blocking. Returns false if none is
// available or other callers are already waiting.
func (s *Semaphore) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.held < s.size && s.waiters.Len() == 0 {
		s.held++
		return true
	}
	return false
}

// Release returns a permit. Panics if called more times than Acquire
// succeeded: an unbalanced release means a bookkeeping bug that would
// otherwise silently widen the concurrency bound.
func (s *Semaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.held == 0 {
		panic("sem: release without matching acquire")
	}

	if front := s.waiters.Front(); front != nil {
		s.waiters.Remove(front)
		close(front.Value.(chan struct{}))
		return
	}
	s.held--
}

// InUse reports the number of permits currently held.
func (s *Semaphore) InUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

// Waiting reports the number of blocked Acquire calls.
func (s *Semaphore) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters.Len()
}

// Resize changes the permit count. Growing wakes queued waiters;
// shrinking takes effect as permits are released. Panics if size is not
// positive.
func (s *Semaphore) Resize(size int) {
	if size <= 0 {
		panic("sem: size must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.size = size
	for s.held < s.size {
		front := s.waiters.Front()
		if front == nil {
			break
		}
		s.waiters.Remove(front)
		s.held++
		close(front.Value.(chan struct{}))
	}
}
