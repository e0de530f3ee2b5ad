package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, ".ob1_worktrees", cfg.General.WorktreeDir)
	assert.Equal(t, "agents.yml", cfg.General.RosterFile)
	assert.Equal(t, 0, cfg.General.MaxParallelAgents)
	assert.False(t, cfg.General.DropStashOnApply)
	assert.Zero(t, cfg.General.StepTimeout.Duration)
	assert.Equal(t, "origin", cfg.Git.Remote)
	assert.Equal(t, "gh", cfg.Hosting.CLI)
	assert.Equal(t, 10*time.Minute, cfg.General.StuckWarning.Duration)
	assert.True(t, cfg.General.WatchActivity)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	content := `
[general]
max_parallel_agents = 2
step_timeout = "15m"
drop_stash_after_apply = true
database_path = "~/ob1/history.db"

[git]
remote = "upstream"

[hosting]
draft = true
labels = ["ai", "needs-review"]
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	home, _ := os.UserHomeDir()
	assert.Equal(t, 2, cfg.General.MaxParallelAgents)
	assert.Equal(t, 15*time.Minute, cfg.General.StepTimeout.Duration)
	assert.True(t, cfg.General.DropStashOnApply)
	assert.Equal(t, filepath.Join(home, "ob1", "history.db"), cfg.General.DatabasePath)
	assert.Equal(t, "upstream", cfg.Git.Remote)
	assert.Equal(t, "git", cfg.Git.Binary)
	assert.True(t, cfg.Hosting.Draft)
	assert.Equal(t, []string{"ai", "needs-review"}, cfg.Hosting.Labels)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad toml", "[general\nworktree_dir = 1"},
		{"bad duration", "[general]\nstep_timeout = \"soon\""},
		{"negative parallelism", "[general]\nmax_parallel_agents = -1"},
		{"absolute worktree dir", "[general]\nworktree_dir = \"/tmp/wt\""},
		{"empty hosting cli", "[hosting]\ncli = \"\""},
		{"unknown log level", "[general]\nlog_level = \"LOUD\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			_, err := Load(path)
			require.Error(t, err)
			assert.True(t, IsConfigError(err), "want ConfigError, got %T", err)
		})
	}
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	cfg := Default()
	cfg.General.StepTimeout.Duration = 90 * time.Second
	cfg.Hosting.Labels = []string{"ai"}

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, loaded.General.StepTimeout.Duration)
	assert.Equal(t, []string{"ai"}, loaded.Hosting.Labels)
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input string
		want  string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative", "relative"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ExpandPath(tt.input))
	}
}

func TestFindLocalConfig(t *testing.T) {
	root := t.TempDir()
	subdir := filepath.Join(root, "sub", "dir")
	require.NoError(t, os.MkdirAll(subdir, 0755))

	localConfig := filepath.Join(root, LocalConfigName)
	require.NoError(t, os.WriteFile(localConfig, []byte("[git]\nremote = \"fork\""), 0644))

	origDir, _ := os.Getwd()
	defer os.Chdir(origDir)
	require.NoError(t, os.Chdir(subdir))

	found := FindLocalConfig()
	// t.TempDir may sit behind a symlink (macOS /var -> /private/var)
	want, _ := filepath.EvalSymlinks(localConfig)
	got, _ := filepath.EvalSymlinks(found)
	assert.Equal(t, want, got)
	assert.Equal(t, found, ResolvePath(""))
	assert.Equal(t, "/explicit.toml", ResolvePath("/explicit.toml"))
}
