package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hochfrequenz/ob1/internal/domain"
	"github.com/hochfrequenz/ob1/internal/logging"
)

// WorktreeManager creates and destroys the per-agent git worktrees of a
// repository. One manager is shared by every pipeline of a run: its mutex
// serializes all commands that touch the main repository's working tree,
// stash or worktree administration.
type WorktreeManager struct {
	runner      Runner
	console     *logging.Console
	logger      *logging.Logger
	git         string
	repoDir     string
	worktreeDir string

	mu        sync.Mutex
	excluded  bool
	snapshots map[string]*snapshotRecord // by run ID
}

// WorktreeOptions configures a WorktreeManager
type WorktreeOptions struct {
	Git         string // git binary, "git" when empty
	WorktreeDir string // relative to the repository root
	Console     *logging.Console
	Logger      *logging.Logger
}

// NewWorktreeManager creates a manager for the repository at repoDir
func NewWorktreeManager(runner Runner, repoDir string, opts WorktreeOptions) *WorktreeManager {
	if opts.Git == "" {
		opts.Git = "git"
	}
	if opts.WorktreeDir == "" {
		opts.WorktreeDir = domain.WorktreeDirName
	}
	if opts.Console == nil {
		opts.Console = logging.NewConsole(nil)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	return &WorktreeManager{
		runner:      runner,
		console:     opts.Console,
		logger:      opts.Logger,
		git:         opts.Git,
		repoDir:     repoDir,
		worktreeDir: filepath.Join(repoDir, opts.WorktreeDir),
		snapshots:   make(map[string]*snapshotRecord),
	}
}

// WorktreeDir returns the absolute directory holding all managed worktrees
func (m *WorktreeManager) WorktreeDir() string {
	return m.worktreeDir
}

// Path returns the worktree that Setup derives for an agent in a run
func (m *WorktreeManager) Path(run *domain.Run, agentName string) domain.Worktree {
	return domain.Worktree{
		Path:   filepath.Join(m.worktreeDir, domain.WorktreeKey(agentName, run.ID)),
		Branch: domain.BranchName(agentName, run.ID),
	}
}

// SetupReport describes what happened to the operator's uncommitted changes
// while a worktree was prepared
type SetupReport struct {
	Snapshot *domain.StashSnapshot // nil when the main tree was clean for the whole run
	Created  bool                  // this pipeline created the snapshot
	Applied  bool
	ApplyErr *StashApplyError
}

// Setup creates a fresh worktree and branch for agentName off the run's base
// branch. Uncommitted changes in the main repository are stashed once per
// run and applied inside every worktree. A failed application leaves the
// worktree clean at the base branch and is reported, not returned.
func (m *WorktreeManager) Setup(ctx context.Context, run *domain.Run, agentName string) (*domain.Worktree, *SetupReport, error) {
	wt := m.Path(run, agentName)
	report := &SetupReport{}

	if err := os.MkdirAll(m.worktreeDir, 0755); err != nil {
		return nil, report, fmt.Errorf("creating worktree dir: %w", err)
	}

	m.mu.Lock()
	if err := m.ensureExcluded(ctx, agentName); err != nil {
		m.mu.Unlock()
		return nil, report, err
	}

	if _, err := os.Stat(wt.Path); err == nil {
		m.console.Printf(agentName, "Cleaning up old worktree...")
		if err := m.removeLocked(ctx, agentName, wt, true); err != nil {
			m.mu.Unlock()
			return nil, report, err
		}
	}

	snap, created, err := m.captureLocked(ctx, run, agentName)
	if err != nil {
		m.mu.Unlock()
		return nil, report, err
	}
	report.Snapshot = snap
	report.Created = created

	m.console.Printf(agentName, "Setting up worktree at: %s", wt.Path)
	if _, err := m.repoGit(ctx, agentName, false, "worktree", "add", "-b", wt.Branch, wt.Path, run.BaseBranch); err != nil {
		m.mu.Unlock()
		return nil, report, fmt.Errorf("git worktree add: %w", err)
	}
	m.mu.Unlock()

	if snap != nil {
		if err := m.apply(ctx, run, agentName, wt, *snap); err != nil {
			report.ApplyErr = err
		} else {
			report.Applied = true
		}
	}

	m.logger.Info("worktree ready",
		"agent", agentName,
		"path", wt.Path,
		"branch", wt.Branch,
		"snapshot", snap != nil,
		"applied", report.Applied,
	)
	return &wt, report, nil
}

// Remove force-removes a worktree and, when deleteBranch is set, its local
// branch. Both steps are tolerated. Returns ErrNoWorktree if the path is
// not on disk.
func (m *WorktreeManager) Remove(ctx context.Context, label string, wt domain.Worktree, deleteBranch bool) error {
	if _, err := os.Stat(wt.Path); os.IsNotExist(err) {
		return ErrNoWorktree
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(ctx, label, wt, deleteBranch)
}

// removeLocked falls back to deleting the directory when git does not know
// it as a worktree, e.g. after an interrupted "git worktree add". Caller
// holds m.mu.
func (m *WorktreeManager) removeLocked(ctx context.Context, label string, wt domain.Worktree, deleteBranch bool) error {
	m.repoGit(ctx, label, true, "worktree", "remove", "-f", wt.Path)
	if deleteBranch && wt.Branch != "" {
		m.repoGit(ctx, label, true, "branch", "-D", wt.Branch)
	}

	if _, err := os.Stat(wt.Path); err == nil {
		if err := os.RemoveAll(wt.Path); err != nil {
			return fmt.Errorf("removing %s: %w", wt.Path, err)
		}
		m.repoGit(ctx, label, true, "worktree", "prune")
	}
	return nil
}

// List returns the registered worktrees that live under the managed directory
func (m *WorktreeManager) List(ctx context.Context) ([]domain.Worktree, error) {
	res, err := m.runner.Run(ctx, Command{
		Args:  []string{m.git, "worktree", "list", "--porcelain"},
		Dir:   m.repoDir,
		Label: logging.SystemLabel,
	})
	if err != nil {
		return nil, fmt.Errorf("git worktree list: %w", err)
	}

	prefixes := []string{m.worktreeDir + string(filepath.Separator)}
	if resolved, err := filepath.EvalSymlinks(m.worktreeDir); err == nil && resolved != m.worktreeDir {
		prefixes = append(prefixes, resolved+string(filepath.Separator))
	}

	var worktrees []domain.Worktree
	var current *domain.Worktree
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "worktree "):
			path := strings.TrimPrefix(line, "worktree ")
			current = nil
			for _, prefix := range prefixes {
				if strings.HasPrefix(path, prefix) {
					worktrees = append(worktrees, domain.Worktree{Path: path})
					current = &worktrees[len(worktrees)-1]
					break
				}
			}
		case strings.HasPrefix(line, "branch ") && current != nil:
			current.Branch = strings.TrimPrefix(line, "branch refs/heads/")
		}
	}
	return worktrees, nil
}

// Prune removes every managed worktree, typically left over by an
// interrupted run. With deleteBranches it also deletes every local branch in
// the agent namespace.
func (m *WorktreeManager) Prune(ctx context.Context, deleteBranches bool) ([]domain.Worktree, error) {
	worktrees, err := m.List(ctx)
	if err != nil {
		return nil, err
	}

	var removed []domain.Worktree
	for _, wt := range worktrees {
		if err := m.Remove(ctx, logging.SystemLabel, wt, deleteBranches); err != nil && err != ErrNoWorktree {
			return removed, err
		}
		removed = append(removed, wt)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.repoGit(ctx, logging.SystemLabel, true, "worktree", "prune")

	if deleteBranches {
		res, err := m.repoGit(ctx, logging.SystemLabel, false,
			"branch", "--list", domain.BranchNamespace+"*", "--format=%(refname:short)")
		if err != nil {
			return removed, fmt.Errorf("listing agent branches: %w", err)
		}
		for _, branch := range strings.Fields(res.Stdout) {
			m.repoGit(ctx, logging.SystemLabel, true, "branch", "-D", branch)
		}
	}
	return removed, nil
}

// ensureExcluded keeps the worktree directory out of "git status" and
// "git stash -u" of the main repository by appending it to the repository's
// info/exclude file. The entry stays after the run; Unexclude removes it.
// Caller holds m.mu.
func (m *WorktreeManager) ensureExcluded(ctx context.Context, label string) error {
	if m.excluded {
		return nil
	}
	excludePath, pattern, err := m.excludeEntry(ctx, label)
	if err != nil {
		return err
	}

	existing, _ := os.ReadFile(excludePath)
	for _, line := range strings.Split(string(existing), "\n") {
		if strings.TrimSpace(line) == pattern {
			m.excluded = true
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(excludePath), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(excludePath), err)
	}
	f, err := os.OpenFile(excludePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", excludePath, err)
	}
	defer f.Close()

	entry := pattern + "\n"
	if len(existing) > 0 && !strings.HasSuffix(string(existing), "\n") {
		entry = "\n" + entry
	}
	if _, err := f.WriteString(entry); err != nil {
		return fmt.Errorf("writing %s: %w", excludePath, err)
	}
	m.excluded = true
	return nil
}

// Unexclude removes the worktree directory's entry from info/exclude,
// leaving every other line untouched. Reports whether an entry was removed.
func (m *WorktreeManager) Unexclude(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	excludePath, pattern, err := m.excludeEntry(ctx, logging.SystemLabel)
	if err != nil {
		return false, err
	}
	data, err := os.ReadFile(excludePath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", excludePath, err)
	}

	lines := strings.SplitAfter(string(data), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) != pattern {
			kept = append(kept, line)
		}
	}
	if len(kept) == len(lines) {
		return false, nil
	}
	if err := os.WriteFile(excludePath, []byte(strings.Join(kept, "")), 0644); err != nil {
		return false, fmt.Errorf("writing %s: %w", excludePath, err)
	}
	m.excluded = false
	return true, nil
}

// excludeEntry returns the repository's info/exclude path and the pattern
// naming the worktree directory
func (m *WorktreeManager) excludeEntry(ctx context.Context, label string) (string, string, error) {
	res, err := m.repoGit(ctx, label, false, "rev-parse", "--git-common-dir")
	if err != nil {
		return "", "", fmt.Errorf("locating git dir: %w", err)
	}
	gitDir := res.Stdout
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(m.repoDir, gitDir)
	}

	rel, err := filepath.Rel(m.repoDir, m.worktreeDir)
	if err != nil {
		return "", "", fmt.Errorf("resolving worktree dir: %w", err)
	}
	return filepath.Join(gitDir, "info", "exclude"), "/" + filepath.ToSlash(rel) + "/", nil
}

// repoGit runs a git subcommand in the main repository
func (m *WorktreeManager) repoGit(ctx context.Context, label string, tolerate bool, args ...string) (*Result, error) {
	return m.runner.Run(ctx, Command{
		Args:     append([]string{m.git}, args...),
		Dir:      m.repoDir,
		Label:    label,
		Tolerate: tolerate,
	})
}
