package agent

import (
	"context"
	"time"

	"github.com/fixwright/fixwright/internal/breaker"
	"github.com/fixwright/fixwright/internal/logging"
	"github.com/fixwright/fixwright/internal/retry"
	"github.com/fixwright/fixwright/internal/watchdog"
)

// BreakerKey is the circuit key shared by all AI invocations.
const BreakerKey = "ai-invoke"

// Guarded wraps an Invoker with the full resilience pipeline: the
// circuit breaker decides whether to call at all, the retry policy
// reissues transient failures, and a watchdog kills an invocation that
// stops making progress.
type Guarded struct {
	inner    Invoker
	breakers *breaker.Registry
	policy   retry.Policy

	// watchdogTimeout bounds the gap between signs of life from the
	// CLI. Zero disables the watchdog.
	watchdogTimeout time.Duration
	logger          *logging.Logger
}

// NewGuarded wires the pipeline around inner.
func NewGuarded(inner Invoker, breakers *breaker.Registry, policy retry.Policy,
	watchdogTimeout time.Duration, logger *logging.Logger) *Guarded {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Guarded{
		inner:           inner,
		breakers:        breakers,
		policy:          policy,
		watchdogTimeout: watchdogTimeout,
		logger:          logger,
	}
}

// Query runs the invocation through breaker, retry, and watchdog.
// Layering order matters: the breaker sits outside so an open circuit
// short-circuits without burning retries, and the watchdog sits inside
// so each retry attempt gets a fresh stall timer.
func (g *Guarded) Query(ctx context.Context, req Request) (Result, error) {
	var res Result
	b := g.breakers.Get(BreakerKey)

	err := b.Do(ctx, func(ctx context.Context) error {
		return g.policy.Do(ctx, "ai-invoke", func(ctx context.Context) error {
			return g.attempt(ctx, req, &res)
		})
	})
	return res, err
}

// heartbeatInvoker is implemented by invokers that can report liveness
// while a call is in flight.
type heartbeatInvoker interface {
	QueryWithHeartbeat(ctx context.Context, req Request, beat func()) (Result, error)
}

func (g *Guarded) attempt(ctx context.Context, req Request, out *Result) error {
	attemptCtx := ctx
	var wd *watchdog.Watchdog
	if g.watchdogTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithCancel(ctx)
		defer cancel()

		// On expiry the watchdog cancels attemptCtx, which kills the
		// child process.
		wd = watchdog.New(BreakerKey, g.watchdogTimeout, cancel, g.logger)
		wd.Start()
		defer wd.Stop()
	}

	var res Result
	var err error
	if hb, ok := g.inner.(heartbeatInvoker); ok && wd != nil {
		// Stream output so every line resets the stall timer and a
		// slow session is distinguishable from a hung one.
		res, err = hb.QueryWithHeartbeat(attemptCtx, req, wd.Heartbeat)
	} else {
		res, err = g.inner.Query(attemptCtx, req)
	}
	if err != nil {
		return err
	}
	*out = res
	return nil
}
