// Package agent defines the contract with the external AI worker and a
// one-shot CLI implementation. Every invocation that leaves the process
// goes through the Guarded wrapper so breaker, retry, and watchdog
// policies compose uniformly.
package agent

import (
	"context"
	"time"
)

// Request is one AI invocation.
type Request struct {
	Prompt string

	// Cwd is the workspace the agent operates in.
	Cwd string

	Model        string
	MaxTurns     int
	MaxBudgetUSD float64

	// ResumeSessionID continues an earlier session instead of starting
	// fresh.
	ResumeSessionID string

	// Timeout bounds the whole invocation. Zero means the caller's ctx
	// is the only bound.
	Timeout time.Duration
}

// Result is the outcome of one AI invocation.
type Result struct {
	Success   bool
	Output    string
	CostUSD   float64
	Turns     int
	SessionID string
}

// Invoker runs one AI invocation to completion.
type Invoker interface {
	Query(ctx context.Context, req Request) (Result, error)
}
