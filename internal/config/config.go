package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/hochfrequenz/ob1/internal/domain"
	"github.com/hochfrequenz/ob1/internal/logging"
)

// LocalConfigName is the per-repository config file looked up from the
// working directory upwards
const LocalConfigName = ".ob1.toml"

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Git           GitConfig           `toml:"git"`
	Hosting       HostingConfig       `toml:"hosting"`
	Notifications NotificationsConfig `toml:"notifications"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	WorktreeDir       string   `toml:"worktree_dir"`
	RosterFile        string   `toml:"roster_file"`
	MaxParallelAgents int      `toml:"max_parallel_agents"`
	DatabasePath      string   `toml:"database_path"`
	StepTimeout       Duration `toml:"step_timeout"`
	DropStashOnApply  bool     `toml:"drop_stash_after_apply"`
	StuckWarning      Duration `toml:"stuck_warning"`  // warn about agents running longer than this
	WatchActivity     bool     `toml:"watch_activity"` // count paths each agent touches
	LogLevel          string   `toml:"log_level"`
	LogFile           string   `toml:"log_file"`
}

// GitConfig holds VCS settings
type GitConfig struct {
	Binary string `toml:"binary"`
	Remote string `toml:"remote"`
}

// HostingConfig holds settings for the code-hosting CLI used to open pull requests
type HostingConfig struct {
	CLI        string   `toml:"cli"`
	Draft      bool     `toml:"draft"`
	Labels     []string `toml:"labels"`
	AutoLabels bool     `toml:"auto_labels"` // label PRs by the kind of paths changed
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// Duration is a time.Duration that reads from TOML strings like "15m"
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			WorktreeDir:       domain.WorktreeDirName,
			RosterFile:        "agents.yml",
			MaxParallelAgents: 0,
			DatabasePath:      filepath.Join(home, ".ob1", "history.db"),
			StuckWarning:      Duration{10 * time.Minute},
			WatchActivity:     true,
			LogLevel:          "INFO",
			LogFile:           filepath.Join(home, ".ob1", "ob1.log"),
		},
		Git: GitConfig{
			Binary: "git",
			Remote: "origin",
		},
		Hosting: HostingConfig{
			CLI: "gh",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
// when the file does not exist
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, &ConfigError{Path: path, Err: err}
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.General.RosterFile = ExpandPath(cfg.General.RosterFile)

	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return cfg, nil
}

// Validate checks settings that cannot be defaulted
func (c *Config) Validate() error {
	if c.General.MaxParallelAgents < 0 {
		return errors.New("general.max_parallel_agents must not be negative")
	}
	if c.General.StepTimeout.Duration < 0 || c.General.StuckWarning.Duration < 0 {
		return errors.New("general.step_timeout and general.stuck_warning must not be negative")
	}
	if !logging.ValidLevel(c.General.LogLevel) {
		return fmt.Errorf("general.log_level %q is not one of DEBUG, INFO, WARN, ERROR", c.General.LogLevel)
	}
	if c.General.WorktreeDir == "" {
		return errors.New("general.worktree_dir must not be empty")
	}
	if filepath.IsAbs(c.General.WorktreeDir) {
		return errors.New("general.worktree_dir must be relative to the repository root")
	}
	if c.Git.Binary == "" || c.Git.Remote == "" {
		return errors.New("git.binary and git.remote must not be empty")
	}
	if c.Hosting.CLI == "" {
		return errors.New("hosting.cli must not be empty")
	}
	return nil
}

// Save writes the config as TOML
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default global config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "ob1", "config.toml")
}

// FindLocalConfig walks up from the working directory looking for
// LocalConfigName. Returns "" when none is found.
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// ResolvePath picks the config file to load: an explicit path wins, then a
// local .ob1.toml, then the global default
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if local := FindLocalConfig(); local != "" {
		return local
	}
	return DefaultConfigPath()
}
