package main

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/ob1/internal/config"
	"github.com/hochfrequenz/ob1/internal/taskstore"
)

func gitIn(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return strings.TrimSpace(string(out))
}

// setupGitRepo creates a repository with one commit on "main" and a bare
// origin to push to
func setupGitRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "repo")
	origin := filepath.Join(root, "origin.git")
	require.NoError(t, os.MkdirAll(dir, 0755))

	gitIn(t, root, "init", "--bare", origin)
	gitIn(t, dir, "init", "-b", "main")
	gitIn(t, dir, "config", "user.email", "test@test.com")
	gitIn(t, dir, "config", "user.name", "Test")
	gitIn(t, dir, "config", "commit.gpgsign", "false")
	gitIn(t, dir, "remote", "add", "origin", origin)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Test\n"), 0644))
	gitIn(t, dir, "add", ".")
	gitIn(t, dir, "commit", "-m", "Initial commit")

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	return resolved
}

// writeTestConfig writes a config using "true" as hosting CLI and a roster
// of two agents
func writeTestConfig(t *testing.T) (cfgPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	roster := filepath.Join(dir, "agents.yml")
	require.NoError(t, os.WriteFile(roster, []byte(`agents:
  - name: coder
    command: "echo {prompt} >> notes.txt"
  - name: reviewer
    command: "true"
`), 0644))

	dbPath = filepath.Join(dir, "history.db")
	cfgPath = filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`[general]
roster_file = "`+roster+`"
database_path = "`+dbPath+`"
log_file = "`+filepath.Join(dir, "ob1.log")+`"

[hosting]
cli = "true"
`), 0644))
	return cfgPath, dbPath
}

// runCLI runs the root command with args and returns its output
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, runPrompt, runAgents = "", "", ""
	runCount, runTimeout, runDryRun = 1, 0, false
	historyLimit, cleanBranches, cleanUnexclude = 20, false, false

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestDetectRepo(t *testing.T) {
	dir := setupGitRepo(t)

	repo, err := detectRepo(context.Background(), quietRunner(), "git", dir)
	require.NoError(t, err)
	assert.Equal(t, dir, repo.Root)
	assert.Equal(t, "main", repo.Branch)
	assert.Equal(t, "repo", repo.Name)
}

func TestDetectRepo_DetachedHead(t *testing.T) {
	dir := setupGitRepo(t)
	gitIn(t, dir, "checkout", "--detach")

	_, err := detectRepo(context.Background(), quietRunner(), "git", dir)
	require.Error(t, err)
	assert.True(t, config.IsConfigError(err))
	assert.Contains(t, err.Error(), "detached")
}

func TestDetectRepo_NotARepository(t *testing.T) {
	_, err := detectRepo(context.Background(), quietRunner(), "git", t.TempDir())
	require.Error(t, err)
	assert.True(t, config.IsConfigError(err))
}

func TestCheckHostingCLI(t *testing.T) {
	assert.NoError(t, checkHostingCLI(context.Background(), quietRunner(), "true", t.TempDir()))

	err := checkHostingCLI(context.Background(), quietRunner(), "ob1-no-such-cli", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'ob1-no-such-cli' (GitHub CLI) is not installed or not authenticated")
}

func TestRosterPath(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, filepath.Join("/repo", "agents.yml"), rosterPath("", cfg, "/repo"))
	assert.Equal(t, "team.yml", rosterPath("team.yml", cfg, "/repo"))

	cfg.General.RosterFile = "/etc/ob1/agents.yml"
	assert.Equal(t, "/etc/ob1/agents.yml", rosterPath("", cfg, "/repo"))
}

func TestStuckInterval(t *testing.T) {
	assert.Zero(t, stuckInterval(0))
	assert.Equal(t, time.Second, stuckInterval(2*time.Second))
	assert.Equal(t, 30*time.Second, stuckInterval(5*time.Minute))
	assert.Equal(t, time.Minute, stuckInterval(time.Hour))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func TestRootCommand_Validation(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	_, err := runCLI(t, "--config", cfgPath, "-m", "   ")
	require.Error(t, err)
	assert.True(t, config.IsConfigError(err))

	_, err = runCLI(t, "--config", cfgPath, "-m", "task", "-k", "0")
	require.Error(t, err)
	assert.True(t, config.IsConfigError(err))
	assert.Contains(t, err.Error(), "-k must be at least 1")
}

func TestRootCommand_MissingRoster(t *testing.T) {
	dir := setupGitRepo(t)
	t.Chdir(dir)
	cfgPath, _ := writeTestConfig(t)

	_, err := runCLI(t, "--config", cfgPath, "-m", "task", "--agents", filepath.Join(t.TempDir(), "none.yml"))
	require.Error(t, err)
	assert.True(t, config.IsConfigError(err))
	assert.Contains(t, err.Error(), "roster file not found")
}

func TestRootCommand_DryRun(t *testing.T) {
	dir := setupGitRepo(t)
	t.Chdir(dir)
	cfgPath, _ := writeTestConfig(t)

	out, err := runCLI(t, "--config", cfgPath, "-m", "add docs", "-k", "3", "--dry-run")
	require.NoError(t, err)

	assert.Contains(t, out, "Starting Orchestrator (Run ID: ")
	assert.Contains(t, out, "   Base Branch: main")
	assert.Contains(t, out, `   Task: "add docs"`)
	assert.Contains(t, out, "   Agents (k): 3")
	assert.Contains(t, out, "Selected agents: coder-1, reviewer-2, coder-3")
	assert.Contains(t, out, "[coder-1] branch ai-agent/coder-1-")
	assert.Contains(t, out, "command: echo 'add docs' >> notes.txt")
	assert.NoDirExists(t, filepath.Join(dir, ".ob1_worktrees"))
}

func TestRootCommand_FullRun(t *testing.T) {
	dir := setupGitRepo(t)
	t.Chdir(dir)
	cfgPath, dbPath := writeTestConfig(t)

	out, err := runCLI(t, "--config", cfgPath, "-m", "add docs", "-k", "2")
	require.NoError(t, err)

	assert.Contains(t, out, "Running AI task...")
	assert.Contains(t, out, "[reviewer-2] No changes detected. Skipping PR.")
	assert.Contains(t, out, "--- Run Summary ---")
	assert.Contains(t, out, "Success: coder-1")
	assert.Contains(t, out, "Success: reviewer-2")

	// Only the agent that changed something pushed a branch
	branches := gitIn(t, dir, "ls-remote", "--heads", "origin")
	assert.Contains(t, branches, "refs/heads/ai-agent/coder-1-")
	assert.NotContains(t, branches, "reviewer-2")

	entries, err := os.ReadDir(filepath.Join(dir, ".ob1_worktrees"))
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, gitIn(t, dir, "status", "--porcelain"))

	store, err := taskstore.New(dbPath)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.ListRecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].Succeeded)
	assert.Equal(t, 1, runs[0].Published)
	assert.NotNil(t, runs[0].FinishedAt)

	out, err = runCLI(t, "--config", cfgPath, "history")
	require.NoError(t, err)
	assert.Contains(t, out, runs[0].ID)
	assert.Contains(t, out, "add docs")

	out, err = runCLI(t, "--config", cfgPath, "history", runs[0].ID)
	require.NoError(t, err)
	assert.Contains(t, out, "coder-1")
	assert.Contains(t, out, "Success")
}

func TestCleanCommand(t *testing.T) {
	dir := setupGitRepo(t)
	t.Chdir(dir)
	cfgPath, _ := writeTestConfig(t)

	wt := filepath.Join(dir, ".ob1_worktrees", "coder-1-abc123")
	gitIn(t, dir, "worktree", "add", "-b", "ai-agent/coder-1-abc123", wt, "main")

	out, err := runCLI(t, "--config", cfgPath, "clean", "--branches")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed ")
	assert.NoDirExists(t, wt)
	assert.Empty(t, gitIn(t, dir, "branch", "--list", "ai-agent/*"))

	assert.Contains(t, out, ".ob1_worktrees stays listed in .git/info/exclude")

	exclude := filepath.Join(dir, ".git", "info", "exclude")
	require.NoError(t, os.WriteFile(exclude, []byte("/.ob1_worktrees/\n"), 0644))
	out, err = runCLI(t, "--config", cfgPath, "clean", "--unexclude")
	require.NoError(t, err)
	assert.Contains(t, out, "No agent worktrees found.")
	assert.Contains(t, out, "Removed .ob1_worktrees from .git/info/exclude")
	data, err := os.ReadFile(exclude)
	require.NoError(t, err)
	assert.Empty(t, string(data))
}
