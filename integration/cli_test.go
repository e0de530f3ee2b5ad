//go:build integration

package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// createTestConfig writes a config whose hosting CLI is cli and whose roster
// is agents (YAML)
func createTestConfig(t *testing.T, cli, agents string) string {
	t.Helper()
	dir := t.TempDir()
	roster := filepath.Join(dir, "agents.yml")
	WriteFile(t, roster, agents)

	configPath := filepath.Join(dir, "config.toml")
	WriteFile(t, configPath, `[general]
roster_file = "`+roster+`"
database_path = "`+TempDBPath(t)+`"
log_file = "`+filepath.Join(dir, "ob1.log")+`"

[hosting]
cli = "`+cli+`"

[notifications]
desktop = false
`)
	return configPath
}

func runOB1(t *testing.T, binary, dir string, args ...string) (string, int) {
	t.Helper()
	cmd := exec.Command(binary, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			t.Fatalf("running ob1: %v", err)
		}
		return string(out), exitErr.ExitCode()
	}
	return string(out), 0
}

const coderRoster = `agents:
  - name: coder
    command: "echo {prompt} >> README.md"
`

func TestCLI_NotARepository(t *testing.T) {
	binary := binaryPath(t)
	configPath := createTestConfig(t, "true", coderRoster)

	out, code := runOB1(t, binary, t.TempDir(), "--config", configPath, "-m", "task")
	if code == 0 {
		t.Fatalf("expected non-zero exit, got 0:\n%s", out)
	}
	if !strings.Contains(out, "not inside a git repository") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestCLI_MissingHostingCLI(t *testing.T) {
	binary := binaryPath(t)
	repo := SetupRepo(t)
	configPath := createTestConfig(t, "ob1-missing-cli", coderRoster)

	out, code := runOB1(t, binary, repo, "--config", configPath, "-m", "task")
	if code == 0 {
		t.Fatalf("expected non-zero exit, got 0:\n%s", out)
	}
	if !strings.Contains(out, "'ob1-missing-cli' (GitHub CLI) is not installed or not authenticated") {
		t.Errorf("unexpected output: %s", out)
	}
	if strings.Contains(out, "Starting Orchestrator") {
		t.Errorf("no pipeline should start: %s", out)
	}
}

func TestCLI_DirtyTreeTwoCoders(t *testing.T) {
	binary := binaryPath(t)
	repo := SetupRepo(t)
	configPath := createTestConfig(t, "true", coderRoster)

	WriteFile(t, filepath.Join(repo, "README.md"), "# Test\nwip\n")
	WriteFile(t, filepath.Join(repo, "scratch.txt"), "notes\n")

	out, code := runOB1(t, binary, repo, "--config", configPath, "-m", "add docs", "-k", "2")
	if code != 0 {
		t.Fatalf("ob1 exited %d:\n%s", code, out)
	}

	for _, want := range []string{
		"Selected agents: coder-1, coder-2",
		"Stashing current changes (including untracked files)...",
		"Success: coder-1",
		"Success: coder-2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	origin := filepath.Join(filepath.Dir(repo), "origin.git")
	var refs []string
	for _, line := range strings.Split(git(t, origin, "for-each-ref", "--format=%(refname)", "refs/heads/ai-agent/"), "\n") {
		if line != "" {
			refs = append(refs, line)
		}
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 pushed agent branches, got %v", refs)
	}
	for _, ref := range refs {
		readme := git(t, origin, "show", ref+":README.md")
		if readme != "# Test\nwip\nadd docs" {
			t.Errorf("%s README = %q", ref, readme)
		}
		if got := git(t, origin, "show", ref+":scratch.txt"); got != "notes" {
			t.Errorf("%s scratch.txt = %q", ref, got)
		}
	}

	// The operator's changes stay recoverable from the stash
	if stashes := git(t, repo, "stash", "list"); !strings.Contains(stashes, "ob1-temp-stash-") {
		t.Errorf("expected retained snapshot, got %q", stashes)
	}

	entries, err := os.ReadDir(filepath.Join(repo, ".ob1_worktrees"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("worktrees left behind: %v", entries)
	}
}

func TestCLI_FailingAgentExitsZero(t *testing.T) {
	binary := binaryPath(t)
	repo := SetupRepo(t)
	configPath := createTestConfig(t, "true", `agents:
  - name: broken
    command: "exit 3"
  - name: noop
    command: "true"
`)

	out, code := runOB1(t, binary, repo, "--config", configPath, "-m", "task", "-k", "2")
	if code != 0 {
		t.Fatalf("ob1 exited %d:\n%s", code, out)
	}
	if !strings.Contains(out, "Failure: broken-1") || !strings.Contains(out, "Success: noop-2") {
		t.Errorf("unexpected summary:\n%s", out)
	}
	if !strings.Contains(out, "❌ ERROR (code 3)") {
		t.Errorf("failed command not reported:\n%s", out)
	}

	// The failed agent's branch is kept for inspection
	if branches := git(t, repo, "branch", "--list", "ai-agent/broken-1-*"); branches == "" {
		t.Error("expected broken-1 branch to be kept")
	}
}

func TestCLI_History(t *testing.T) {
	binary := binaryPath(t)
	repo := SetupRepo(t)
	configPath := createTestConfig(t, "true", coderRoster)

	if out, code := runOB1(t, binary, repo, "--config", configPath, "-m", "add docs"); code != 0 {
		t.Fatalf("ob1 exited %d:\n%s", code, out)
	}

	out, code := runOB1(t, binary, repo, "--config", configPath, "history")
	if code != 0 {
		t.Fatalf("history exited %d:\n%s", code, out)
	}
	if !strings.Contains(out, "RUN") || !strings.Contains(out, "add docs") {
		t.Errorf("unexpected history:\n%s", out)
	}
}
