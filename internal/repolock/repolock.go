// Package repolock serializes mutations of a repository working copy.
// Locks are in-process and keyed by path: the run lock already ensures a
// single fixwright process per run directory, so cross-process exclusion
// is not needed here.
package repolock

import (
	"sync"
)

// Provider hands out one mutex per repository path.
type Provider struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewProvider creates an empty lock provider.
func NewProvider() *Provider {
	return &Provider{locks: make(map[string]*sync.Mutex)}
}

// WithLock runs fn while holding the lock for repoPath. The lock is
// released on every exit path, including a panic in fn.
func (p *Provider) WithLock(repoPath string, fn func() error) error {
	lock := p.lockFor(repoPath)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}

func (p *Provider) lockFor(repoPath string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()

	lock, ok := p.locks[repoPath]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[repoPath] = lock
	}
	return lock
}
