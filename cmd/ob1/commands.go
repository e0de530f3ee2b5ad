package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/ob1/internal/executor"
	"github.com/hochfrequenz/ob1/internal/logging"
	"github.com/hochfrequenz/ob1/internal/taskstore"
)

var (
	historyLimit   int
	cleanBranches  bool
	cleanUnexclude bool
)

func init() {
	// history command
	historyCmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "List past runs, or the agent outcomes of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to show")
	rootCmd.AddCommand(historyCmd)

	// clean command
	cleanCmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove worktrees left behind by interrupted runs",
		Long: `Remove worktrees left behind by interrupted runs.

ob1 lists its worktree directory in the repository's .git/info/exclude so
that agent worktrees never appear as untracked files. That entry outlives
every run; pass --unexclude to remove it as well.`,
		Args: cobra.NoArgs,
		RunE: runClean,
	}
	cleanCmd.Flags().BoolVar(&cleanBranches, "branches", false, "also delete the agent branches")
	cleanCmd.Flags().BoolVar(&cleanUnexclude, "unexclude", false, "also remove the worktree directory from .git/info/exclude")
	rootCmd.AddCommand(cleanCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := taskstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	defer w.Flush()

	if len(args) == 1 {
		outcomes, err := store.ListOutcomes(args[0])
		if err != nil {
			return err
		}
		if len(outcomes) == 0 {
			return fmt.Errorf("no outcomes recorded for run %s", args[0])
		}
		fmt.Fprintln(w, "AGENT\tSTATUS\tSTATE\tDURATION\tPR")
		for _, o := range outcomes {
			pr := o.PRURL
			if pr == "" {
				pr = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", o.Agent, o.Status, o.State, o.Duration().Round(time.Second), pr)
		}
		return nil
	}

	runs, err := store.ListRecentRuns(historyLimit)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "RUN\tSTARTED\tREPO\tBRANCH\tAGENTS\tOK\tFAILED\tPRS\tPROMPT")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.ID, humanize.Time(r.StartedAt), filepath.Base(r.RepoRoot), r.BaseBranch,
			r.K, r.Succeeded, r.Failed, r.Published, truncate(r.Prompt, 40))
	}
	return nil
}

func runClean(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	repo, err := detectRepo(cmd.Context(), quietRunner(), cfg.Git.Binary, cwd)
	if err != nil {
		return err
	}

	console := logging.NewConsole(cmd.OutOrStdout())
	runner := executor.NewExecRunner(console, nil, cfg.General.StepTimeout.Duration)
	worktrees := executor.NewWorktreeManager(runner, repo.Root, executor.WorktreeOptions{
		Git:         cfg.Git.Binary,
		WorktreeDir: cfg.General.WorktreeDir,
		Console:     console,
	})

	removed, err := worktrees.Prune(cmd.Context(), cleanBranches)
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		console.Linef("No agent worktrees found.")
	}
	for _, wt := range removed {
		console.Linef("Removed %s (%s)", wt.Path, wt.Branch)
	}

	if !cleanUnexclude {
		console.Linef("Note: %s stays listed in .git/info/exclude; run 'ob1 clean --unexclude' to remove it.", cfg.General.WorktreeDir)
		return nil
	}
	unexcluded, err := worktrees.Unexclude(cmd.Context())
	if err != nil {
		return err
	}
	if unexcluded {
		console.Linef("Removed %s from .git/info/exclude", cfg.General.WorktreeDir)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
