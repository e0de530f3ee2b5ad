package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/hochfrequenz/ob1/internal/config"
	"github.com/hochfrequenz/ob1/internal/executor"
	"github.com/hochfrequenz/ob1/internal/logging"
)

// repoInfo describes the repository ob1 was started in
type repoInfo struct {
	Root   string
	Name   string
	Branch string
}

// quietRunner runs preflight probes without echoing them to the console
func quietRunner() executor.Runner {
	return executor.NewExecRunner(logging.NewConsole(io.Discard), nil, 0)
}

// detectRepo resolves the repository root and the checked-out branch of dir
func detectRepo(ctx context.Context, runner executor.Runner, git, dir string) (*repoInfo, error) {
	res, err := runner.Run(ctx, executor.Command{Args: []string{git, "rev-parse", "--show-toplevel"}, Dir: dir})
	if err != nil {
		var failed *executor.CommandFailedError
		if errors.As(err, &failed) && failed.ExitCode > 0 {
			return nil, config.Errorf("%s is not inside a git repository", dir)
		}
		return nil, fmt.Errorf("'%s' is not installed: %w", git, err)
	}
	root := res.Stdout

	res, err = runner.Run(ctx, executor.Command{Args: []string{git, "branch", "--show-current"}, Dir: root})
	if err != nil {
		return nil, fmt.Errorf("reading current branch: %w", err)
	}
	if res.Stdout == "" {
		return nil, config.Errorf("HEAD is detached; check out the branch the agents should start from")
	}

	return &repoInfo{Root: root, Name: filepath.Base(root), Branch: res.Stdout}, nil
}

// checkHostingCLI verifies the pull request CLI can be invoked
func checkHostingCLI(ctx context.Context, runner executor.Runner, cli, dir string) error {
	if _, err := runner.Run(ctx, executor.Command{Args: []string{cli, "--help"}, Dir: dir}); err != nil {
		return fmt.Errorf("'%s' (GitHub CLI) is not installed or not authenticated", cli)
	}
	return nil
}
