package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/ob1/internal/domain"
)

// Roster is the parsed agent roster file
type Roster struct {
	Agents []domain.AgentDefinition `yaml:"agents"`
}

// ErrEmptyRoster is returned when the roster defines no agents
var ErrEmptyRoster = errors.New("no agents defined")

// LoadRoster reads and validates the agent roster. A missing file, a parse
// error, an empty list or an incomplete entry are all ConfigErrors.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ConfigError{Path: path, Err: fmt.Errorf("roster file not found")}
		}
		return nil, &ConfigError{Path: path, Err: err}
	}
	return ParseRoster(path, data)
}

// ParseRoster parses roster YAML; path is only used in error messages
func ParseRoster(path string, data []byte) (*Roster, error) {
	var roster Roster
	if err := yaml.Unmarshal(data, &roster); err != nil {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("parsing YAML: %w", err)}
	}
	if err := roster.Validate(); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return &roster, nil
}

// Validate checks every agent definition
func (r *Roster) Validate() error {
	if len(r.Agents) == 0 {
		return ErrEmptyRoster
	}
	seen := make(map[string]bool, len(r.Agents))
	for i, a := range r.Agents {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			return fmt.Errorf("agents[%d]: name is required", i)
		}
		if strings.ContainsAny(name, " \t/\\:~^?*[") {
			return fmt.Errorf("agents[%d]: name %q cannot be used in a branch name", i, name)
		}
		if seen[name] {
			return fmt.Errorf("agents[%d]: duplicate name %q", i, name)
		}
		seen[name] = true
		if strings.TrimSpace(a.Command) == "" {
			return fmt.Errorf("agents[%d] (%s): command is required", i, name)
		}
		if !strings.Contains(a.Command, domain.PromptPlaceholder) {
			return fmt.Errorf("agents[%d] (%s): command must contain %s", i, name, domain.PromptPlaceholder)
		}
	}
	return nil
}
