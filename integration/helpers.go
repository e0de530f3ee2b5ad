//go:build integration

package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// binaryPath builds the ob1 binary into a temp dir once per test
func binaryPath(t *testing.T) string {
	t.Helper()
	out := filepath.Join(t.TempDir(), "ob1")
	cmd := exec.Command("go", "build", "-o", out, "../cmd/ob1")
	if b, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build binary: %v\n%s", err, b)
	}
	return out
}

// TempDBPath creates a temporary database path for testing
func TempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

// git runs git in dir and returns its trimmed output
func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

// SetupRepo creates a repository on branch "main" with one commit and a
// bare "origin" remote. Returns the resolved repository path.
func SetupRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	repo := filepath.Join(root, "repo")
	origin := filepath.Join(root, "origin.git")
	if err := os.MkdirAll(repo, 0755); err != nil {
		t.Fatal(err)
	}

	git(t, root, "init", "--bare", origin)
	git(t, repo, "init", "-b", "main")
	git(t, repo, "config", "user.email", "test@test.com")
	git(t, repo, "config", "user.name", "Test")
	git(t, repo, "config", "commit.gpgsign", "false")
	git(t, repo, "remote", "add", "origin", origin)
	WriteFile(t, filepath.Join(repo, "README.md"), "# Test\n")
	git(t, repo, "add", ".")
	git(t, repo, "commit", "-m", "Initial commit")
	git(t, repo, "push", "origin", "main")

	resolved, err := filepath.EvalSymlinks(repo)
	if err != nil {
		t.Fatal(err)
	}
	return resolved
}

// WriteFile writes content to path, creating parent directories
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// ReadFile returns the content of path
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}
