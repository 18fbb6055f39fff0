// Package watchdog detects stalled external calls. A call that keeps
// heartbeating is slow; a call that stops heartbeating is hung and gets
// its timeout callback fired so the owner can kill the underlying work.
package watchdog

import (
	"sync"
	"time"

	"github.com/fixwright/fixwright/internal/logging"
)

// Watchdog supervises one in-flight call. Start it when the call begins,
// Heartbeat on every sign of progress, and Stop when the call returns on
// any path.
type Watchdog struct {
	name      string
	timeout   time.Duration
	onTimeout func()
	logger    *logging.Logger

	mu      sync.Mutex
	timer   *time.Timer
	running bool
	fired   bool
}

// New creates a watchdog. onTimeout runs at most once per Start and must
// force-terminate the supervised call; it is invoked from the timer
// goroutine.
func New(name string, timeout time.Duration, onTimeout func(), logger *logging.Logger) *Watchdog {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Watchdog{
		name:      name,
		timeout:   timeout,
		onTimeout: onTimeout,
		logger:    logger,
	}
}

// Start arms the watchdog. Starting an already-running watchdog resets it.
func (w *Watchdog) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.running = true
	w.fired = false
	w.timer = time.AfterFunc(w.timeout, w.expire)
}

// Heartbeat signals progress and pushes the deadline out. Heartbeats
// after the watchdog fired or stopped are ignored.
func (w *Watchdog) Heartbeat() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running || w.fired {
		return
	}
	w.timer.Reset(w.timeout)
}

// Stop disarms the watchdog. Safe to call multiple times and after a
// timeout already fired.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.running = false
}

// Fired reports whether the timeout callback ran since the last Start.
func (w *Watchdog) Fired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}

func (w *Watchdog) expire() {
	w.mu.Lock()
	if !w.running || w.fired {
		w.mu.Unlock()
		return
	}
	w.fired = true
	w.running = false
	w.mu.Unlock()

	w.logger.Warn("watchdog timeout, terminating hung operation",
		"name", w.name,
		"timeout", w.timeout.String(),
	)
	if w.onTimeout != nil {
		w.onTimeout()
	}
}
