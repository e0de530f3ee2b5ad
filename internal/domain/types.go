package domain

// PipelineState is the step an agent pipeline has reached
type PipelineState string

const (
	StateInitializing  PipelineState = "initializing"
	StateWorktreeReady PipelineState = "worktree_ready"
	StateTaskRun       PipelineState = "task_run"
	StatePublished     PipelineState = "published"
	StateSkipped       PipelineState = "skipped"
)

// OutcomeStatus is the terminal status of an agent pipeline
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "Success"
	OutcomeFailure OutcomeStatus = "Failure"
)

const (
	// WorktreeDirName is the reserved directory, relative to the repository
	// root, under which every agent worktree lives.
	WorktreeDirName = ".ob1_worktrees"

	// BranchNamespace prefixes every agent branch.
	BranchNamespace = "ai-agent/"

	// StashLabelPrefix prefixes the message of every stash snapshot.
	StashLabelPrefix = "ob1-temp-stash-"
)
