package domain

import "fmt"

// Placeholders recognised in an agent command template
const (
	PromptPlaceholder       = "{prompt}"
	WorktreePathPlaceholder = "{worktree_path}"
)

// AgentDefinition is a named command template loaded from the roster
type AgentDefinition struct {
	Name    string `yaml:"name"`
	Command string `yaml:"command"`
}

// AgentInstance is one AgentDefinition specialised for a single run
type AgentInstance struct {
	Definition AgentDefinition
	Name       string // definition name plus the 1-based instance index
	Index      int
}

// Command returns the instance's command template
func (a AgentInstance) Command() string {
	return a.Definition.Command
}

// Instantiate builds k agent instances by cycling through defs in order.
// Instance i (1-based) is named "<definition>-<i>", so every instance is
// distinct even when a single definition is replicated.
func Instantiate(defs []AgentDefinition, k int) []AgentInstance {
	if k <= 0 || len(defs) == 0 {
		return nil
	}
	instances := make([]AgentInstance, 0, k)
	for i := 0; i < k; i++ {
		def := defs[i%len(defs)]
		instances = append(instances, AgentInstance{
			Definition: def,
			Name:       fmt.Sprintf("%s-%d", def.Name, i+1),
			Index:      i + 1,
		})
	}
	return instances
}

// InstanceNames returns the names of the given instances
func InstanceNames(instances []AgentInstance) []string {
	names := make([]string, len(instances))
	for i, inst := range instances {
		names[i] = inst.Name
	}
	return names
}
