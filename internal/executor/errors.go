package executor

import (
	"errors"
	"fmt"

	"github.com/hochfrequenz/ob1/internal/domain"
)

// ErrNoWorktree is returned by cleanup when there is nothing on disk to remove
var ErrNoWorktree = errors.New("no worktree on disk")

// CommandFailedError reports a non-tolerated external command that exited
// non-zero, could not be started, or was killed by its context
type CommandFailedError struct {
	Command  string
	ExitCode int // -1 when the process never produced an exit status
	Stdout   string
	Stderr   string
	Cause    error // context or start error, if any
}

func (e *CommandFailedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("command %q failed (code %d): %v", e.Command, e.ExitCode, e.Cause)
	}
	return fmt.Sprintf("command %q failed (code %d)", e.Command, e.ExitCode)
}

func (e *CommandFailedError) Unwrap() error { return e.Cause }

// StashApplyError reports that a snapshot could not be applied in a worktree.
// The worktree was reset to the base branch and the snapshot kept.
type StashApplyError struct {
	Snapshot domain.StashSnapshot
	Worktree string
	Err      error
}

func (e *StashApplyError) Error() string {
	return fmt.Sprintf("applying stash %s in %s: %v", e.Snapshot.Label, e.Worktree, e.Err)
}

func (e *StashApplyError) Unwrap() error { return e.Err }
