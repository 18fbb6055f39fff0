package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/fixwright/fixwright/internal/errors"
	"github.com/fixwright/fixwright/internal/logging"
)

// CLIConfig configures the claude CLI invoker.
type CLIConfig struct {
	// Command is the binary to run. Defaults to "claude".
	Command string

	// SkipPermissions passes --dangerously-skip-permissions, required
	// for unattended runs.
	SkipPermissions bool
}

// CLI invokes the claude CLI in one-shot print mode and parses its JSON
// result envelope.
type CLI struct {
	cfg    CLIConfig
	logger *logging.Logger

	// runCommand and streamCommand are swapped in tests.
	runCommand    func(ctx context.Context, cwd string, args []string, stdin string) ([]byte, error)
	streamCommand func(ctx context.Context, cwd string, args []string, stdin string, onLine func(line []byte)) error
}

// NewCLI creates a CLI invoker.
func NewCLI(cfg CLIConfig, logger *logging.Logger) *CLI {
	if cfg.Command == "" {
		cfg.Command = "claude"
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	c := &CLI{cfg: cfg, logger: logger}
	c.runCommand = c.execCommand
	c.streamCommand = c.execStream
	return c
}

// cliResult is the JSON envelope the CLI prints in one-shot mode.
type cliResult struct {
	Result       string  `json:"result"`
	IsError      bool    `json:"is_error"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	NumTurns     int     `json:"num_turns"`
	SessionID    string  `json:"session_id"`
}

// buildArgs assembles the shared invocation flags.
func (c *CLI) buildArgs(req Request) []string {
	args := []string{"-p"}
	if c.cfg.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(req.MaxTurns))
	}
	if req.ResumeSessionID != "" {
		args = append(args, "--resume", req.ResumeSessionID)
	}
	return args
}

// Query runs one invocation and blocks until the CLI exits.
func (c *CLI) Query(ctx context.Context, req Request) (Result, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	args := append(c.buildArgs(req), "--output-format", "json")

	c.logger.Debug("invoking agent",
		"model", req.Model,
		"max_turns", req.MaxTurns,
		"resume", req.ResumeSessionID != "",
	)

	out, err := c.runCommand(ctx, req.Cwd, args, req.Prompt)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("%w: agent invocation: %w", errors.ErrHungOperation, ctx.Err())
		}
		return Result{}, errors.Transient("agent invocation", err)
	}

	var parsed cliResult
	if err := json.Unmarshal(out, &parsed); err != nil {
		return Result{}, fmt.Errorf("parse agent output: %w", err)
	}
	return c.toResult(req, parsed)
}

// streamEnvelope is one line of stream-json output. Only the final
// "result" line carries the fields we keep.
type streamEnvelope struct {
	Type string `json:"type"`
	cliResult
}

// QueryWithHeartbeat runs one invocation in stream-json mode, calling
// beat for every line the CLI emits so a stall detector can tell a
// slow-but-alive session from a hung one.
func (c *CLI) QueryWithHeartbeat(ctx context.Context, req Request, beat func()) (Result, error) {
	if beat == nil {
		return c.Query(ctx, req)
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	// stream-json in print mode requires --verbose.
	args := append(c.buildArgs(req), "--output-format", "stream-json", "--verbose")

	c.logger.Debug("invoking agent",
		"model", req.Model,
		"max_turns", req.MaxTurns,
		"resume", req.ResumeSessionID != "",
		"stream", true,
	)

	var final *cliResult
	err := c.streamCommand(ctx, req.Cwd, args, req.Prompt, func(line []byte) {
		beat()
		var env streamEnvelope
		if json.Unmarshal(line, &env) != nil {
			return
		}
		if env.Type == "result" {
			parsed := env.cliResult
			final = &parsed
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("%w: agent invocation: %w", errors.ErrHungOperation, ctx.Err())
		}
		return Result{}, errors.Transient("agent invocation", err)
	}
	if final == nil {
		return Result{}, errors.Transient("agent invocation", errors.New("stream ended without a result envelope"))
	}
	return c.toResult(req, *final)
}

func (c *CLI) toResult(req Request, parsed cliResult) (Result, error) {
	res := Result{
		Success:   !parsed.IsError,
		Output:    parsed.Result,
		CostUSD:   parsed.TotalCostUSD,
		Turns:     parsed.NumTurns,
		SessionID: parsed.SessionID,
	}
	if req.MaxBudgetUSD > 0 && res.CostUSD > req.MaxBudgetUSD {
		c.logger.Warn("agent exceeded its invocation budget",
			"cost_usd", res.CostUSD,
			"budget_usd", req.MaxBudgetUSD,
		)
	}
	if parsed.IsError {
		return res, &errors.AIError{
			SessionID: parsed.SessionID,
			CostUSD:   parsed.TotalCostUSD,
			Err:       errors.New(parsed.Result),
		}
	}
	return res, nil
}

func (c *CLI) execCommand(ctx context.Context, cwd string, args []string, stdin string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.cfg.Command, args...)
	cmd.Dir = cwd
	cmd.Stdin = bytes.NewBufferString(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w (stderr: %s)", c.cfg.Command, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

func (c *CLI) execStream(ctx context.Context, cwd string, args []string, stdin string, onLine func(line []byte)) error {
	cmd := exec.CommandContext(ctx, c.cfg.Command, args...)
	cmd.Dir = cwd
	cmd.Stdin = bytes.NewBufferString(stdin)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%s: %w", c.cfg.Command, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%s: %w", c.cfg.Command, err)
	}

	scanner := bufio.NewScanner(stdout)
	// Assistant turns can carry whole files in one line.
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		// Scanner reuses its buffer between calls.
		buf := make([]byte, len(line))
		copy(buf, line)
		onLine(buf)
	}
	scanErr := scanner.Err()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%s: %w (stderr: %s)", c.cfg.Command, err, stderr.String())
	}
	return scanErr
}
