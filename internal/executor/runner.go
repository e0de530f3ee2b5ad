// Package executor runs the external commands of an agent pipeline: plain
// git/hosting-CLI invocations, worktree setup and teardown, and the agent
// command itself.
package executor

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/alessio/shellescape"
	"github.com/dustin/go-humanize"

	"github.com/hochfrequenz/ob1/internal/logging"
)

// StepStatus is the tri-state result of one external command
type StepStatus int

const (
	StepSucceeded StepStatus = iota
	StepTolerated            // non-zero exit, caller asked to carry on
	StepFailed
)

func (s StepStatus) String() string {
	switch s {
	case StepSucceeded:
		return "succeeded"
	case StepTolerated:
		return "tolerated"
	case StepFailed:
		return "failed"
	}
	return "unknown"
}

// Command describes one external invocation. Exactly one of Args or Script
// is set; Script runs through "sh -c".
type Command struct {
	Args     []string
	Script   string
	Dir      string
	Label    string // agent instance name, or logging.SystemLabel
	Tolerate bool
}

// Text returns the command as it is shown in the audit trail
func (c Command) Text() string {
	if c.Script != "" {
		return c.Script
	}
	return shellescape.QuoteCommand(c.Args)
}

func (c Command) label() string {
	if c.Label == "" {
		return logging.SystemLabel
	}
	return c.Label
}

// Result is what a command left behind
type Result struct {
	Stdout   string // trimmed
	Stderr   string // trimmed
	ExitCode int
	Status   StepStatus
	Duration time.Duration
}

// Runner executes commands. Implementations must be safe for concurrent use.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExecRunner runs commands as child processes and echoes them to the console
type ExecRunner struct {
	console     *logging.Console
	logger      *logging.Logger
	stepTimeout time.Duration
}

// NewExecRunner creates an ExecRunner. A zero stepTimeout means no limit
// beyond the caller's context.
func NewExecRunner(console *logging.Console, logger *logging.Logger, stepTimeout time.Duration) *ExecRunner {
	if console == nil {
		console = logging.NewConsole(nil)
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &ExecRunner{console: console, logger: logger, stepTimeout: stepTimeout}
}

// Run executes cmd and waits for it. Captured output is always echoed.
// A non-zero exit returns *CommandFailedError unless cmd.Tolerate is set.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	label := cmd.label()
	text := cmd.Text()
	r.console.Printf(label, "Running: %s", text)

	runCtx := ctx
	if r.stepTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.stepTimeout)
		defer cancel()
	}

	var c *exec.Cmd
	if cmd.Script != "" {
		c = exec.CommandContext(runCtx, "sh", "-c", cmd.Script)
	} else {
		if len(cmd.Args) == 0 {
			return nil, &CommandFailedError{Command: text, ExitCode: -1, Cause: errors.New("empty command")}
		}
		c = exec.CommandContext(runCtx, cmd.Args[0], cmd.Args[1:]...)
	}
	c.Dir = cmd.Dir
	// Grandchildren of "sh -c" may keep the pipes open after a kill
	c.WaitDelay = 5 * time.Second

	var stdoutBuf, stderrBuf bytes.Buffer
	c.Stdout = &stdoutBuf
	c.Stderr = &stderrBuf

	start := time.Now()
	err := c.Run()
	res := &Result{
		Stdout:   strings.TrimSpace(stdoutBuf.String()),
		Stderr:   strings.TrimSpace(stderrBuf.String()),
		Duration: time.Since(start),
	}

	var cause error
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case runCtx.Err() != nil:
			res.ExitCode = -1
			cause = runCtx.Err()
		case errors.As(err, &exitErr):
			res.ExitCode = exitErr.ExitCode()
		default:
			res.ExitCode = -1
			cause = err
		}
	}

	if res.Stdout != "" {
		r.console.Block(label, "STDOUT", res.Stdout)
	}
	if res.Stderr != "" {
		r.console.Block(label, "STDERR", res.Stderr)
	}

	r.logger.Debug("command finished",
		"label", label,
		"command", text,
		"exit_code", res.ExitCode,
		"stdout", humanize.Bytes(uint64(len(res.Stdout))),
		"stderr", humanize.Bytes(uint64(len(res.Stderr))),
		"duration", res.Duration.String(),
	)

	if err == nil {
		res.Status = StepSucceeded
		return res, nil
	}

	if cmd.Tolerate {
		res.Status = StepTolerated
		r.console.Printf(label, "⚠️ Warning: Command failed (code %d), but errors are ignored.", res.ExitCode)
		return res, nil
	}

	res.Status = StepFailed
	r.console.Printf(label, "❌ ERROR (code %d)", res.ExitCode)
	r.logger.Warn("command failed", "label", label, "command", text, "exit_code", res.ExitCode)
	return res, &CommandFailedError{
		Command:  text,
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		Cause:    cause,
	}
}
