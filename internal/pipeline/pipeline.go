// Package pipeline drives agent pipelines: one isolated worktree per agent
// instance, the agent command, publication of its changes and cleanup, with
// every instance of a run executing concurrently.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/ob1/internal/domain"
	"github.com/hochfrequenz/ob1/internal/executor"
	"github.com/hochfrequenz/ob1/internal/logging"
	"github.com/hochfrequenz/ob1/internal/observer"
	"github.com/hochfrequenz/ob1/internal/prbot"
)

// Worktrees prepares and releases per-agent workspaces
type Worktrees interface {
	Path(run *domain.Run, agentName string) domain.Worktree
	Setup(ctx context.Context, run *domain.Run, agentName string) (*domain.Worktree, *executor.SetupReport, error)
	Remove(ctx context.Context, label string, wt domain.Worktree, deleteBranch bool) error
	Snapshot(runID string) (*domain.StashSnapshot, bool)
	DropSnapshot(ctx context.Context, runID string) (bool, error)
}

// Agents runs an agent command in a worktree
type Agents interface {
	Run(ctx context.Context, wt *domain.Worktree, inst domain.AgentInstance, prompt string) (*executor.Result, error)
}

// Publisher publishes the changes left in a worktree
type Publisher interface {
	Publish(ctx context.Context, run *domain.Run, inst domain.AgentInstance, wt *domain.Worktree) (*prbot.Publication, error)
}

// Recorder persists pipeline outcomes
type Recorder interface {
	SaveOutcome(runID string, out domain.Outcome) error
}

// Options configures a Coordinator
type Options struct {
	MaxParallel   int  // 0 runs every instance at once
	DropSnapshot  bool // drop the run's stash once every pipeline published it
	WatchActivity bool // count paths the agent touches
	StuckInterval time.Duration
	Console       *logging.Console
	Logger        *logging.Logger
	Observer      *observer.Observer
	Recorder      Recorder
}

// Coordinator runs agent pipelines
type Coordinator struct {
	worktrees Worktrees
	agents    Agents
	publisher Publisher
	opts      Options
}

// New creates a Coordinator
func New(worktrees Worktrees, agents Agents, publisher Publisher, opts Options) *Coordinator {
	if opts.Console == nil {
		opts.Console = logging.NewConsole(nil)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.Observer == nil {
		opts.Observer = observer.New(0)
	}
	return &Coordinator{
		worktrees: worktrees,
		agents:    agents,
		publisher: publisher,
		opts:      opts,
	}
}

// RunAll runs one pipeline per instance concurrently and waits for all of
// them. Outcomes are returned in instance order. A failing pipeline never
// stops its siblings.
func (c *Coordinator) RunAll(ctx context.Context, run *domain.Run, instances []domain.AgentInstance) []domain.Outcome {
	outcomes := make([]domain.Outcome, len(instances))

	stopWatch := c.watchStuck(ctx)
	defer stopWatch()

	var g errgroup.Group
	if c.opts.MaxParallel > 0 {
		g.SetLimit(c.opts.MaxParallel)
	}
	for i, inst := range instances {
		g.Go(func() error {
			outcomes[i] = c.RunAgent(ctx, run, inst)
			return nil
		})
	}
	g.Wait()

	if c.opts.DropSnapshot {
		c.dropSnapshot(ctx, run, outcomes)
	}
	return outcomes
}

// RunAgent runs the full pipeline for one instance: worktree setup, agent
// command, publication. The worktree is released exactly once, whatever
// happened, as long as it exists on disk.
func (c *Coordinator) RunAgent(ctx context.Context, run *domain.Run, inst domain.AgentInstance) (out domain.Outcome) {
	name := inst.Name
	logger := c.opts.Logger.WithRun(run.ID).WithAgent(name)
	expected := c.worktrees.Path(run, name)

	out = domain.Outcome{
		Agent:     name,
		State:     domain.StateInitializing,
		Branch:    expected.Branch,
		StartedAt: time.Now(),
	}
	c.opts.Console.Linef("🚀 Starting pipeline for agent: %s (Task: %s)", name, run.ID)
	c.opts.Observer.Started(name)

	defer func() {
		c.release(ctx, logger, name, expected, &out)
		out.FinishedAt = time.Now()
		c.opts.Observer.RecordOutcome(out)
		if c.opts.Recorder != nil {
			if err := c.opts.Recorder.SaveOutcome(run.ID, out); err != nil {
				logger.Warn("recording outcome failed", "error", err.Error())
			}
		}
		logger.Info("pipeline finished",
			"status", string(out.Status),
			"state", string(out.State),
			"published", out.Published,
			"duration", out.Duration().String(),
		)
	}()

	if err := c.execute(ctx, logger, run, inst, &out); err != nil {
		out.Status = domain.OutcomeFailure
		out.Err = err
		c.opts.Console.Linef("❌ Pipeline for %s FAILED: %v", name, err)
		logger.Error("pipeline failed", "state", string(out.State), "error", err.Error())
		return out
	}

	out.Status = domain.OutcomeSuccess
	c.opts.Console.Linef("✅ Pipeline for %s COMPLETED successfully.", name)
	return out
}

func (c *Coordinator) execute(ctx context.Context, logger *logging.Logger, run *domain.Run, inst domain.AgentInstance, out *domain.Outcome) error {
	wt, report, err := c.worktrees.Setup(ctx, run, inst.Name)
	if report != nil && report.ApplyErr != nil {
		out.ApplyFailed = true
	}
	if err != nil {
		return fmt.Errorf("setting up worktree: %w", err)
	}
	c.transition(logger, out, domain.StateWorktreeReady)
	out.Branch = wt.Branch

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run canceled: %w", err)
	}

	c.opts.Console.Printf(inst.Name, "Running AI task...")
	var activity *observer.Activity
	if c.opts.WatchActivity {
		activity, err = observer.WatchActivity(wt.Path)
		if err != nil {
			logger.Warn("watching worktree failed", "error", err.Error())
		}
	}
	_, err = c.agents.Run(ctx, wt, inst, run.Prompt)
	if activity != nil {
		touched := activity.Stop()
		out.FilesTouched = len(touched)
		logger.Info("agent activity", "paths", len(touched), "watch_errors", activity.Errors())
	}
	if err != nil {
		return fmt.Errorf("running agent: %w", err)
	}
	c.transition(logger, out, domain.StateTaskRun)

	pub, err := c.publisher.Publish(ctx, run, inst, wt)
	if err != nil {
		return fmt.Errorf("publishing changes: %w", err)
	}
	if pub == nil {
		pub = &prbot.Publication{}
	}
	out.PRURL = pub.PRURL
	out.Published = pub.Published
	if pub.Published {
		c.transition(logger, out, domain.StatePublished)
	} else {
		c.transition(logger, out, domain.StateSkipped)
	}
	return nil
}

// release removes the worktree if it exists. The local branch is deleted
// only when the pipeline succeeded; a failed agent's branch stays for
// inspection. Runs on a context detached from cancellation so an
// interrupted run still cleans up.
func (c *Coordinator) release(ctx context.Context, logger *logging.Logger, name string, wt domain.Worktree, out *domain.Outcome) {
	if _, err := os.Stat(wt.Path); err != nil {
		logger.Debug("no worktree to clean up", "path", wt.Path)
		return
	}

	c.opts.Console.Printf(name, "Cleaning up worktree...")
	deleteBranch := out.Status == domain.OutcomeSuccess
	err := c.worktrees.Remove(context.WithoutCancel(ctx), name, wt, deleteBranch)
	if err != nil && !errors.Is(err, executor.ErrNoWorktree) {
		c.opts.Console.Printf(name, "⚠️ Warning: cleanup failed: %v", err)
		logger.Warn("cleanup failed", "path", wt.Path, "error", err.Error())
		return
	}
	out.CleanedUp = true
	logger.Debug("worktree released", "branch_deleted", deleteBranch)
}

func (c *Coordinator) transition(logger *logging.Logger, out *domain.Outcome, state domain.PipelineState) {
	out.State = state
	logger.Debug("pipeline state", "state", string(state))
}

func (c *Coordinator) dropSnapshot(ctx context.Context, run *domain.Run, outcomes []domain.Outcome) {
	snap, ok := c.worktrees.Snapshot(run.ID)
	if !ok {
		return
	}
	if reason := keepSnapshotReason(outcomes); reason != "" {
		c.opts.Console.Printf(logging.SystemLabel, "Keeping stash %s: %s", snap.Label, reason)
		return
	}

	dropped, err := c.worktrees.DropSnapshot(context.WithoutCancel(ctx), run.ID)
	if err != nil {
		c.opts.Console.Printf(logging.SystemLabel, "⚠️ Warning: could not drop stash %s: %v", snap.Label, err)
		return
	}
	if dropped {
		c.opts.Logger.WithRun(run.ID).Info("stash snapshot dropped", "label", snap.Label)
	}
}

// keepSnapshotReason explains why the run's snapshot stays in the stash. It
// is only dropped when every pipeline pushed a branch carrying it.
func keepSnapshotReason(outcomes []domain.Outcome) string {
	for _, out := range outcomes {
		switch {
		case out.ApplyFailed:
			return "it could not be applied for " + out.Agent
		case out.Status != domain.OutcomeSuccess:
			return out.Agent + " failed"
		case !out.Published:
			return out.Agent + " published nothing"
		}
	}
	return ""
}

// watchStuck periodically warns about pipelines running longer than the
// observer's threshold. The returned func stops the watch.
func (c *Coordinator) watchStuck(ctx context.Context) func() {
	if c.opts.StuckInterval <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(c.opts.StuckInterval)
		defer ticker.Stop()

		warned := make(map[string]bool)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for name, elapsed := range c.opts.Observer.Stuck() {
					if warned[name] {
						continue
					}
					warned[name] = true
					c.opts.Console.Printf(name, "⏳ Still running after %s", elapsed.Round(time.Second))
					c.opts.Logger.Warn("pipeline slow", "agent", name, "elapsed", elapsed.String())
				}
			}
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}
