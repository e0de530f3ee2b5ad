package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// runIDLength is how many characters of a random UUID make up a run ID
const runIDLength = 6

// Run represents one invocation of the orchestrator
type Run struct {
	ID         string
	RepoRoot   string
	BaseBranch string
	Prompt     string
	K          int
	StartedAt  time.Time
}

// NewRunID returns a short random token identifying a run
func NewRunID() string {
	return uuid.New().String()[:runIDLength]
}

// NewRun creates a Run with a fresh ID
func NewRun(repoRoot, baseBranch, prompt string, k int) *Run {
	return &Run{
		ID:         NewRunID(),
		RepoRoot:   repoRoot,
		BaseBranch: baseBranch,
		Prompt:     prompt,
		K:          k,
		StartedAt:  time.Now(),
	}
}

// Worktree is an isolated checkout owned by a single agent instance
type Worktree struct {
	Path   string
	Branch string
}

// WorktreeKey is the name shared by an agent's worktree directory and branch
func WorktreeKey(agentName, runID string) string {
	return fmt.Sprintf("%s-%s", agentName, runID)
}

// BranchName returns the branch an agent instance works on during a run
func BranchName(agentName, runID string) string {
	return BranchNamespace + WorktreeKey(agentName, runID)
}

// StashLabel returns the message used for a stash snapshot taken on behalf of an agent
func StashLabel(runID, agentName string) string {
	return fmt.Sprintf("%s%s-%s", StashLabelPrefix, runID, agentName)
}

// StashSnapshot is a capture of the operator's uncommitted changes
type StashSnapshot struct {
	Label     string
	Ref       string // commit the stash entry points at
	CreatedBy string // agent instance that took the snapshot
}

// Outcome is the terminal result of one agent pipeline
type Outcome struct {
	Agent        string
	Status       OutcomeStatus
	State        PipelineState // last state reached before the terminal status was decided
	Published    bool
	PRURL        string
	Branch       string
	FilesTouched int  // distinct paths the agent wrote while running
	ApplyFailed  bool // the operator's changes could not be replayed in the worktree
	CleanedUp    bool
	Err          error
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Duration returns how long the pipeline ran
func (o Outcome) Duration() time.Duration {
	if o.StartedAt.IsZero() || o.FinishedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

// Succeeded reports whether the pipeline ended in OutcomeSuccess
func (o Outcome) Succeeded() bool {
	return o.Status == OutcomeSuccess
}

// String returns the summary line for the outcome, e.g. "Success: coder-1"
func (o Outcome) String() string {
	return fmt.Sprintf("%s: %s", o.Status, o.Agent)
}
