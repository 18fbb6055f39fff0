// Package breaker implements a per-operation circuit breaker. Repeated
// failures against one external dependency open its circuit so calls fail
// fast instead of queueing against a dead service.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/fixwright/fixwright/internal/errors"
	"github.com/fixwright/fixwright/internal/event"
	"github.com/fixwright/fixwright/internal/logging"
)

// State is the circuit state.
type State string

const (
	// StateClosed passes calls through and counts failures.
	StateClosed State = "closed"

	// StateOpen rejects calls until the open duration elapses.
	StateOpen State = "open"

	// StateHalfOpen probes with live calls; a run of successes closes
	// the circuit, any failure reopens it.
	StateHalfOpen State = "half_open"
)

// Config holds the breaker thresholds.
type Config struct {
	// FailureThreshold is the consecutive failure count that opens a
	// closed circuit.
	FailureThreshold int

	// SuccessThreshold is the consecutive success count that closes a
	// half-open circuit.
	SuccessThreshold int

	// OpenDuration is how long an open circuit rejects calls before
	// moving to half-open.
	OpenDuration time.Duration
}

// DefaultConfig mirrors the shipped configuration defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenDuration:     60 * time.Second,
	}
}

// Breaker is a three-state circuit breaker for one operation key.
type Breaker struct {
	key    string
	cfg    Config
	bus    *event.Bus
	logger *logging.Logger
	now    func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	reopenAt  time.Time
}

// New creates a closed breaker for the given operation key. bus may be
// nil when nothing consumes state-change events.
func New(key string, cfg Config, bus *event.Bus, logger *logging.Logger) *Breaker {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Breaker{
		key:    key,
		cfg:    cfg,
		bus:    bus,
		logger: logger,
		now:    time.Now,
		state:  StateClosed,
	}
}

// Do runs fn if the circuit admits the call, then records the outcome.
// An open circuit returns BreakerOpenError without invoking fn.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		b.recordFailure()
		return err
	}
	// Caller-initiated cancellation says nothing about the health of
	// the dependency, so it neither opens nor closes the circuit.
	if err == nil {
		b.recordSuccess()
	}
	return err
}

// State returns the current circuit state, applying the open-to-half-open
// timer first.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tick()
	return b.state
}

// Snapshot reports the state and counters for diagnostics.
func (b *Breaker) Snapshot() (state State, failures, successes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tick()
	return b.state, b.failures, b.successes
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tick()
	if b.state == StateOpen {
		return &errors.BreakerOpenError{
			Key:       b.key,
			Remaining: b.reopenAt.Sub(b.now()),
		}
	}
	return nil
}

// tick moves an expired open circuit to half-open. Callers hold b.mu.
func (b *Breaker) tick() {
	if b.state == StateOpen && !b.now().Before(b.reopenAt) {
		b.transition(StateHalfOpen)
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
		}
	case StateClosed:
		b.successes = 0
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successes = 0
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.open()
		}
	case StateHalfOpen:
		b.open()
	}
}

// open starts the rejection window. Callers hold b.mu.
func (b *Breaker) open() {
	b.reopenAt = b.now().Add(b.cfg.OpenDuration)
	b.transition(StateOpen)
}

// transition changes state, resets counters, and notifies. Callers hold b.mu.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.failures = 0
	b.successes = 0

	b.logger.Warn("circuit breaker state changed",
		"key", b.key,
		"from", string(from),
		"to", string(to),
	)
	if b.bus != nil {
		b.bus.Publish(event.NewBreakerStateChangedEvent(b.key, string(from), string(to)))
	}
}

// Registry hands out one Breaker per operation key, creating them on
// first use with a shared config.
type Registry struct {
	cfg    Config
	bus    *event.Bus
	logger *logging.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, bus *event.Bus, logger *logging.Logger) *Registry {
	return &Registry{
		cfg:      cfg,
		bus:      bus,
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for key, creating it if needed.
func (r *Registry) Get(key string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[key]
	if !ok {
		b = New(key, r.cfg, r.bus, r.logger)
		r.breakers[key] = b
	}
	return b
}

// Keys returns the registered operation keys.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.breakers))
	for k := range r.breakers {
		keys = append(keys, k)
	}
	return keys
}
