package worker

import (
	"context"

	"github.com/fixwright/fixwright/internal/agent"
	"github.com/fixwright/fixwright/internal/ci"
)

// changeDetector is the slice of Repo the fixer needs.
type changeDetector interface {
	HasChanges(workspace string) (bool, error)
}

// AgentFixer applies CI repair prompts through the coding agent. It
// satisfies ci.Fixer.
type AgentFixer struct {
	agent agent.Invoker
	repo  changeDetector
	model string
}

// NewAgentFixer wires a fixer around the given invoker.
func NewAgentFixer(invoker agent.Invoker, repo changeDetector, model string) *AgentFixer {
	return &AgentFixer{agent: invoker, repo: repo, model: model}
}

// ApplyFix runs the repair prompt in the job workspace and reports
// whether the agent changed anything.
func (f *AgentFixer) ApplyFix(ctx context.Context, req ci.FixRequest) (ci.FixResult, error) {
	res, err := f.agent.Query(ctx, agent.Request{
		Prompt:       req.Prompt,
		Cwd:          req.Workspace,
		Model:        f.model,
		MaxBudgetUSD: req.MaxBudgetUSD,
	})
	if err != nil {
		return ci.FixResult{CostUSD: res.CostUSD}, err
	}

	changed, err := f.repo.HasChanges(req.Workspace)
	if err != nil {
		return ci.FixResult{CostUSD: res.CostUSD}, err
	}
	return ci.FixResult{Changed: changed, CostUSD: res.CostUSD}, nil
}
