package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/alessio/shellescape"

	"github.com/hochfrequenz/ob1/internal/domain"
)

// RenderCommand substitutes the roster placeholders in a command template.
// Values are shell-quoted so the prompt reaches the agent as one argument.
func RenderCommand(template, prompt, worktreePath string) string {
	return strings.NewReplacer(
		domain.PromptPlaceholder, shellescape.Quote(prompt),
		domain.WorktreePathPlaceholder, shellescape.Quote(worktreePath),
	).Replace(template)
}

// AgentRunner runs an agent's command inside its worktree
type AgentRunner struct {
	runner Runner
}

// NewAgentRunner creates an AgentRunner
func NewAgentRunner(runner Runner) *AgentRunner {
	return &AgentRunner{runner: runner}
}

// Run executes the instance's command with the prompt in wt. A non-zero
// exit is fatal for the pipeline.
func (a *AgentRunner) Run(ctx context.Context, wt *domain.Worktree, inst domain.AgentInstance, prompt string) (*Result, error) {
	if wt == nil {
		return nil, ErrNoWorktree
	}
	script := RenderCommand(inst.Command(), prompt, wt.Path)
	res, err := a.runner.Run(ctx, Command{
		Script: script,
		Dir:    wt.Path,
		Label:  inst.Name,
	})
	if err != nil {
		return res, fmt.Errorf("agent %s: %w", inst.Name, err)
	}
	return res, nil
}
