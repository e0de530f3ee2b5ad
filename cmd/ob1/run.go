package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/ob1/internal/config"
	"github.com/hochfrequenz/ob1/internal/domain"
	"github.com/hochfrequenz/ob1/internal/executor"
	"github.com/hochfrequenz/ob1/internal/logging"
	"github.com/hochfrequenz/ob1/internal/notify"
	"github.com/hochfrequenz/ob1/internal/observer"
	"github.com/hochfrequenz/ob1/internal/pipeline"
	"github.com/hochfrequenz/ob1/internal/prbot"
	"github.com/hochfrequenz/ob1/internal/report"
	"github.com/hochfrequenz/ob1/internal/taskstore"
)

var (
	runPrompt  string
	runCount   int
	runAgents  string
	runTimeout time.Duration
	runDryRun  bool
)

func init() {
	rootCmd.Flags().StringVarP(&runPrompt, "prompt", "m", "", "task given to every agent")
	rootCmd.Flags().IntVarP(&runCount, "count", "k", 1, "number of agents to run")
	rootCmd.Flags().StringVar(&runAgents, "agents", "", "agent roster file (default: general.roster_file)")
	rootCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "abort the whole run after this long")
	rootCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "show the agents, branches and worktrees without running anything")
	rootCmd.MarkFlagRequired("prompt")
}

func loadConfig() (*config.Config, error) {
	return config.Load(config.ResolvePath(configPath))
}

// rosterPath picks the roster file: an explicit --agents path is taken
// relative to the working directory, the configured one relative to the
// repository root
func rosterPath(flag string, cfg *config.Config, repoRoot string) string {
	if flag != "" {
		return config.ExpandPath(flag)
	}
	if filepath.IsAbs(cfg.General.RosterFile) {
		return cfg.General.RosterFile
	}
	return filepath.Join(repoRoot, cfg.General.RosterFile)
}

func runOrchestrate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	prompt := strings.TrimSpace(runPrompt)
	if prompt == "" {
		return config.Errorf("the prompt must not be empty")
	}
	if runCount < 1 {
		return config.Errorf("-k must be at least 1, got %d", runCount)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	probe := quietRunner()
	repo, err := detectRepo(ctx, probe, cfg.Git.Binary, cwd)
	if err != nil {
		return err
	}

	roster, err := config.LoadRoster(rosterPath(runAgents, cfg, repo.Root))
	if err != nil {
		return err
	}

	if !runDryRun {
		if err := checkHostingCLI(ctx, probe, cfg.Hosting.CLI, repo.Root); err != nil {
			return err
		}
	}

	run := domain.NewRun(repo.Root, repo.Branch, prompt, runCount)
	instances := domain.Instantiate(roster.Agents, runCount)
	console := logging.NewConsole(out)
	printBanner(console, repo, run, instances)

	if runDryRun {
		return printDryRun(console, cfg, run, instances)
	}

	logger, err := logging.NewLogger(cfg.General.LogFile, cfg.General.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Close()
	runLog := logger.WithRun(run.ID)
	runLog.Info("run started", "repo", repo.Root, "base", repo.Branch, "k", run.K,
		"agents", strings.Join(domain.InstanceNames(instances), ","))

	store := openHistory(cfg, console, runLog)
	if store != nil {
		defer store.Close()
		if err := store.SaveRun(run); err != nil {
			runLog.Warn("recording run failed", "error", err)
		}
	}

	if runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runTimeout)
		defer cancel()
	}

	outcomes, metrics, snapshot := execute(ctx, cfg, console, logger, store, run, instances)

	if store != nil {
		if err := store.FinishRun(run.ID, time.Now()); err != nil {
			runLog.Warn("recording run end failed", "error", err)
		}
	}

	if err := report.Render(out, report.Summary{
		Run:      run,
		Outcomes: outcomes,
		Metrics:  metrics,
		Snapshot: snapshot,
		Elapsed:  time.Since(run.StartedAt),
	}); err != nil {
		return err
	}

	if err := notify.FromConfig(cfg.Notifications).Send(notify.RunFinished(run, outcomes)); err != nil {
		runLog.Warn("sending notification failed", "error", err)
	}
	runLog.Info("run finished", "outcomes", len(outcomes))

	// Pipeline failures are reported above, not through the exit code
	return nil
}

// execute wires the pipeline components for one run and waits for every agent
func execute(ctx context.Context, cfg *config.Config, console *logging.Console, logger *logging.Logger,
	store *taskstore.Store, run *domain.Run, instances []domain.AgentInstance) ([]domain.Outcome, observer.Metrics, *domain.StashSnapshot) {

	runner := executor.NewExecRunner(console, logger, cfg.General.StepTimeout.Duration)
	worktrees := executor.NewWorktreeManager(runner, run.RepoRoot, executor.WorktreeOptions{
		Git:         cfg.Git.Binary,
		WorktreeDir: cfg.General.WorktreeDir,
		Console:     console,
		Logger:      logger,
	})
	publisher := prbot.NewPublisher(runner, prbot.Options{
		Git:        cfg.Git.Binary,
		Remote:     cfg.Git.Remote,
		CLI:        cfg.Hosting.CLI,
		Draft:      cfg.Hosting.Draft,
		Labels:     cfg.Hosting.Labels,
		AutoLabels: cfg.Hosting.AutoLabels,
		Console:    console,
		Logger:     logger,
	})

	obs := observer.New(cfg.General.StuckWarning.Duration)
	opts := pipeline.Options{
		MaxParallel:   cfg.General.MaxParallelAgents,
		DropSnapshot:  cfg.General.DropStashOnApply,
		WatchActivity: cfg.General.WatchActivity,
		StuckInterval: stuckInterval(cfg.General.StuckWarning.Duration),
		Console:       console,
		Logger:        logger,
		Observer:      obs,
	}
	if store != nil {
		opts.Recorder = store
	}

	coord := pipeline.New(worktrees, executor.NewAgentRunner(runner), publisher, opts)
	outcomes := coord.RunAll(ctx, run, instances)

	snapshot, _ := worktrees.Snapshot(run.ID)
	return outcomes, obs.GetMetrics(), snapshot
}

// stuckInterval is how often running pipelines are checked against the
// stuck threshold
func stuckInterval(threshold time.Duration) time.Duration {
	if threshold <= 0 {
		return 0
	}
	return min(max(threshold/10, time.Second), time.Minute)
}

// openHistory opens the run history database. History is optional: a
// failure is reported and the run continues without it.
func openHistory(cfg *config.Config, console *logging.Console, logger *logging.Logger) *taskstore.Store {
	if cfg.General.DatabasePath == "" {
		return nil
	}
	store, err := taskstore.New(cfg.General.DatabasePath)
	if err != nil {
		console.Printf(logging.SystemLabel, "⚠️ Run history disabled: %v", err)
		logger.Warn("opening history failed", "path", cfg.General.DatabasePath, "error", err)
		return nil
	}
	return store
}

func printBanner(console *logging.Console, repo *repoInfo, run *domain.Run, instances []domain.AgentInstance) {
	console.Linef("Starting Orchestrator (Run ID: %s)", run.ID)
	console.Linef("   Repo: %s", repo.Name)
	console.Linef("   Base Branch: %s", run.BaseBranch)
	console.Linef("   Task: %q", run.Prompt)
	console.Linef("   Agents (k): %d", run.K)
	console.Linef("")
	console.Linef("Selected agents: %s", strings.Join(domain.InstanceNames(instances), ", "))
	console.Linef("---")
}

func printDryRun(console *logging.Console, cfg *config.Config, run *domain.Run, instances []domain.AgentInstance) error {
	worktrees := executor.NewWorktreeManager(quietRunner(), run.RepoRoot, executor.WorktreeOptions{
		Git:         cfg.Git.Binary,
		WorktreeDir: cfg.General.WorktreeDir,
		Console:     logging.NewConsole(io.Discard),
	})
	console.Linef("Dry run: nothing will be created.")
	for _, inst := range instances {
		wt := worktrees.Path(run, inst.Name)
		rel, err := filepath.Rel(run.RepoRoot, wt.Path)
		if err != nil {
			rel = wt.Path
		}
		console.Printf(inst.Name, "branch %s, worktree %s", wt.Branch, rel)
		console.Printf(inst.Name, "command: %s", executor.RenderCommand(inst.Command(), run.Prompt, wt.Path))
	}
	return nil
}
