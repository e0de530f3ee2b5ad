package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/hochfrequenz/ob1/internal/domain"
	"github.com/hochfrequenz/ob1/internal/logging"
)

type snapshotRecord struct {
	snapshot    domain.StashSnapshot
	applied     int
	applyFailed bool
}

// captureLocked stashes the main repository's uncommitted changes the first
// time a pipeline of the run finds them. Later pipelines see a clean tree
// and reuse the run's snapshot. A clean tree never produces a stash entry.
// Caller holds m.mu.
func (m *WorktreeManager) captureLocked(ctx context.Context, run *domain.Run, agentName string) (*domain.StashSnapshot, bool, error) {
	res, err := m.repoGit(ctx, agentName, false, "status", "--porcelain")
	if err != nil {
		return nil, false, fmt.Errorf("git status: %w", err)
	}

	if res.Stdout == "" {
		if rec, ok := m.snapshots[run.ID]; ok {
			snap := rec.snapshot
			return &snap, false, nil
		}
		return nil, false, nil
	}

	if rec, ok := m.snapshots[run.ID]; ok {
		// Changes appeared after the run stashed; they are not ours to move
		m.console.Printf(agentName, "Main repository changed after %s was taken; reusing it", rec.snapshot.Label)
		snap := rec.snapshot
		return &snap, false, nil
	}

	label := domain.StashLabel(run.ID, agentName)
	m.console.Printf(agentName, "Stashing current changes (including untracked files)...")
	if _, err := m.repoGit(ctx, agentName, false, "stash", "push", "-u", "-m", label); err != nil {
		return nil, false, fmt.Errorf("git stash push: %w", err)
	}

	ref, err := m.repoGit(ctx, agentName, false, "rev-parse", "-q", "--verify", "stash@{0}")
	if err != nil {
		return nil, false, fmt.Errorf("resolving stash %s: %w", label, err)
	}

	snap := domain.StashSnapshot{Label: label, Ref: ref.Stdout, CreatedBy: agentName}
	m.snapshots[run.ID] = &snapshotRecord{snapshot: snap}
	m.logger.Info("stash snapshot created", "agent", agentName, "label", label, "ref", snap.Ref)
	return &snap, true, nil
}

// apply replays the snapshot in the worktree. On failure the worktree is
// reset to its base commit and the snapshot is flagged so it is never dropped.
func (m *WorktreeManager) apply(ctx context.Context, run *domain.Run, agentName string, wt domain.Worktree, snap domain.StashSnapshot) *StashApplyError {
	m.console.Printf(agentName, "Applying stashed changes to new worktree...")
	_, err := m.runner.Run(ctx, Command{
		Args:  []string{m.git, "stash", "apply", snap.Ref},
		Dir:   wt.Path,
		Label: agentName,
	})

	m.mu.Lock()
	rec := m.snapshots[run.ID]
	if rec != nil {
		if err != nil {
			rec.applyFailed = true
		} else {
			rec.applied++
		}
	}
	m.mu.Unlock()

	if err == nil {
		return nil
	}

	m.console.Printf(agentName, "❌ Failed to apply stashed changes; continuing from a clean %s.", run.BaseBranch)
	m.console.Printf(agentName, "   Your changes are safe in the main repository's stash as %q (%s).", snap.Label, snap.Ref)
	m.console.Printf(agentName, "   Recover them with 'git stash list' and 'git stash apply %s' (or 'git stash pop').", snap.Ref)

	m.runner.Run(ctx, Command{Args: []string{m.git, "reset", "--hard", "HEAD"}, Dir: wt.Path, Label: agentName, Tolerate: true})
	m.runner.Run(ctx, Command{Args: []string{m.git, "clean", "-fd"}, Dir: wt.Path, Label: agentName, Tolerate: true})

	m.logger.Warn("stash apply failed", "agent", agentName, "label", snap.Label, "ref", snap.Ref, "error", err.Error())
	return &StashApplyError{Snapshot: snap, Worktree: wt.Path, Err: err}
}

// Snapshot returns the run's snapshot, if one was taken
func (m *WorktreeManager) Snapshot(runID string) (*domain.StashSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.snapshots[runID]
	if !ok {
		return nil, false
	}
	snap := rec.snapshot
	return &snap, true
}

// DropSnapshot removes the run's snapshot from the stash list. It refuses
// (returning false) when no snapshot exists or any application failed.
func (m *WorktreeManager) DropSnapshot(ctx context.Context, runID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.snapshots[runID]
	if !ok {
		return false, nil
	}
	if rec.applyFailed {
		m.console.Printf(logging.SystemLabel, "Keeping %s: it could not be applied everywhere", rec.snapshot.Label)
		return false, nil
	}

	res, err := m.repoGit(ctx, logging.SystemLabel, false, "stash", "list", "--format=%H")
	if err != nil {
		return false, fmt.Errorf("git stash list: %w", err)
	}
	for i, sha := range strings.Fields(res.Stdout) {
		if sha != rec.snapshot.Ref {
			continue
		}
		if _, err := m.repoGit(ctx, logging.SystemLabel, false, "stash", "drop", fmt.Sprintf("stash@{%d}", i)); err != nil {
			return false, fmt.Errorf("git stash drop: %w", err)
		}
		delete(m.snapshots, runID)
		return true, nil
	}
	return false, fmt.Errorf("stash %s (%s) no longer in the stash list", rec.snapshot.Label, rec.snapshot.Ref)
}
