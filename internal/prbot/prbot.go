// Package prbot publishes an agent's work: it commits the worktree, pushes
// the branch and opens a pull request through the hosting CLI.
package prbot

import (
	"context"
	"fmt"
	"strings"

	"github.com/hochfrequenz/ob1/internal/domain"
	"github.com/hochfrequenz/ob1/internal/executor"
	"github.com/hochfrequenz/ob1/internal/logging"
)

const prBodyTemplate = "This PR was generated by the `ob1` orchestrator.\n\n**Agent:** `%s`\n**Task:** `%s`"

// commitPromptLimit is how many characters of the prompt go into a commit subject
const commitPromptLimit = 50

// Options configures a Publisher
type Options struct {
	Git        string // git binary
	Remote     string // push remote
	CLI        string // hosting CLI, e.g. "gh"
	Draft      bool
	Labels     []string
	AutoLabels bool // add labels derived from the changed paths
	Console    *logging.Console
	Logger     *logging.Logger
}

// Publisher turns a worktree with changes into a pushed branch and a PR
type Publisher struct {
	runner executor.Runner
	opts   Options
}

// Publication is the result of a Publish call
type Publication struct {
	Published bool
	PRURL     string
	Category  Category
	Files     []string // staged paths, only collected with AutoLabels
}

// NewPublisher creates a Publisher
func NewPublisher(runner executor.Runner, opts Options) *Publisher {
	if opts.Git == "" {
		opts.Git = "git"
	}
	if opts.Remote == "" {
		opts.Remote = "origin"
	}
	if opts.CLI == "" {
		opts.CLI = "gh"
	}
	if opts.Console == nil {
		opts.Console = logging.NewConsole(nil)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	return &Publisher{runner: runner, opts: opts}
}

// CommitMessage builds the commit subject for an agent's work
func CommitMessage(agent, prompt string) string {
	runes := []rune(prompt)
	if len(runes) > commitPromptLimit {
		runes = runes[:commitPromptLimit]
	}
	return fmt.Sprintf("feat: AI (%s) - %s...", agent, string(runes))
}

// PRTitle builds the pull request title
func PRTitle(agent, prompt string) string {
	return fmt.Sprintf("AI Agent (%s): %s", agent, prompt)
}

// BuildPRBody constructs the PR body
func BuildPRBody(agent, prompt string) string {
	return fmt.Sprintf(prBodyTemplate, agent, prompt)
}

// Publish commits everything in wt, pushes its branch and opens a PR
// against the run's base branch. It returns an unpublished Publication and
// no error when the agent left the worktree unchanged. Any failing step
// after change detection is returned as an error.
func (p *Publisher) Publish(ctx context.Context, run *domain.Run, inst domain.AgentInstance, wt *domain.Worktree) (*Publication, error) {
	if wt == nil {
		return nil, executor.ErrNoWorktree
	}
	agent := inst.Name
	pub := &Publication{Category: CategoryRoutine}

	p.opts.Console.Printf(agent, "Committing and pushing changes...")
	changed, err := p.hasChanges(ctx, agent, wt)
	if err != nil {
		return pub, err
	}
	if !changed {
		p.opts.Console.Printf(agent, "No changes detected. Skipping PR.")
		return pub, nil
	}
	p.opts.Console.Printf(agent, "Changes detected. Proceeding...")

	if _, err := p.git(ctx, agent, wt, "add", "."); err != nil {
		return pub, fmt.Errorf("git add: %w", err)
	}

	if p.opts.AutoLabels {
		res, err := p.git(ctx, agent, wt, "diff", "--cached", "--name-only")
		if err != nil {
			return pub, fmt.Errorf("listing staged files: %w", err)
		}
		pub.Files = strings.Fields(res.Stdout)
		pub.Category = Categorize(pub.Files)
	}

	if _, err := p.git(ctx, agent, wt, "commit", "-m", CommitMessage(agent, run.Prompt)); err != nil {
		return pub, fmt.Errorf("git commit: %w", err)
	}
	if _, err := p.git(ctx, agent, wt, "push", p.opts.Remote, wt.Branch); err != nil {
		return pub, fmt.Errorf("git push: %w", err)
	}

	p.opts.Console.Printf(agent, "Creating Pull Request...")
	res, err := p.runner.Run(ctx, executor.Command{
		Args:  p.prCreateArgs(run, agent, wt, pub.Category),
		Dir:   wt.Path,
		Label: agent,
	})
	if err != nil {
		return pub, fmt.Errorf("%s pr create: %w", p.opts.CLI, err)
	}

	pub.Published = true
	pub.PRURL = lastLine(res.Stdout)
	p.opts.Logger.Info("pull request created",
		"agent", agent,
		"branch", wt.Branch,
		"url", pub.PRURL,
		"category", string(pub.Category),
	)
	return pub, nil
}

// hasChanges reports whether the agent modified tracked files or created
// new ones
func (p *Publisher) hasChanges(ctx context.Context, agent string, wt *domain.Worktree) (bool, error) {
	res, err := p.runner.Run(ctx, executor.Command{
		Args:     []string{p.opts.Git, "diff-index", "--quiet", "HEAD"},
		Dir:      wt.Path,
		Label:    agent,
		Tolerate: true,
	})
	if err != nil {
		return false, fmt.Errorf("git diff-index: %w", err)
	}
	if res.Status != executor.StepSucceeded {
		return true, nil
	}

	// diff-index ignores untracked files
	status, err := p.git(ctx, agent, wt, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	return status.Stdout != "", nil
}

func (p *Publisher) prCreateArgs(run *domain.Run, agent string, wt *domain.Worktree, category Category) []string {
	args := []string{p.opts.CLI, "pr", "create",
		"--base", run.BaseBranch,
		"--head", wt.Branch,
		"--title", PRTitle(agent, run.Prompt),
		"--body", BuildPRBody(agent, run.Prompt),
	}
	if p.opts.Draft {
		args = append(args, "--draft")
	}

	labels := append([]string{}, p.opts.Labels...)
	if p.opts.AutoLabels {
		labels = append(labels, GetLabels(category)...)
	}
	seen := make(map[string]bool)
	for _, label := range labels {
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true
		args = append(args, "--label", label)
	}
	return args
}

func (p *Publisher) git(ctx context.Context, agent string, wt *domain.Worktree, args ...string) (*executor.Result, error) {
	return p.runner.Run(ctx, executor.Command{
		Args:  append([]string{p.opts.Git}, args...),
		Dir:   wt.Path,
		Label: agent,
	})
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
