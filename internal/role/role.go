// Package role defines role configurations: which provider and model a role
// speaks through, its system prompt, its tool allowance, and how much
// autonomy it has over user questions.
package role

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/forgecore/agentcore/internal/prompt"
)

// Autonomy controls how ask_user calls from a role are handled.
type Autonomy string

const (
	AutonomySupervised Autonomy = "supervised"
	AutonomyBalanced   Autonomy = "balanced"
	AutonomyAutonomous Autonomy = "autonomous"
)

// Well-known role names. Additional roles may be configured freely.
const (
	Architect = "architect"
	Developer = "developer"
	Reviewer  = "reviewer"
)

// Role is one configured role.
type Role struct {
	Name         string   `yaml:"name"`
	Provider     string   `yaml:"provider"`
	Model        string   `yaml:"model"`
	SystemPrompt string   `yaml:"system_prompt"` // empty = loaded from the prompt files
	Temperature  *float32 `yaml:"temperature"`
	AllowedTools []string `yaml:"allowed_tools"` // empty = all tools the mode filter permits
	Autonomy     Autonomy `yaml:"autonomy"`
	SubServers   []string `yaml:"sub_servers"` // extra tool-server commands for this role
}

// Allows reports whether the role's own tool allowance permits name.
// An empty allowance permits everything; mode filtering is applied on top.
func (r Role) Allows(name string) bool {
	if len(r.AllowedTools) == 0 {
		return true
	}
	for _, t := range r.AllowedTools {
		if t == name {
			return true
		}
	}
	return false
}

// configFile mirrors the top-level structure of roles.yaml.
type configFile struct {
	Roles []Role `yaml:"roles"`
}

// LoadConfigFile reads role configurations from a YAML document and fills
// missing system prompts from the loader.
func LoadConfigFile(path string, loader *prompt.PromptLoader) (map[string]Role, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("role: read config %q: %w", path, err)
	}
	var file configFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("role: parse config %q: %w", path, err)
	}

	roles := make(map[string]Role, len(file.Roles))
	for i, r := range file.Roles {
		if r.Name == "" {
			return nil, fmt.Errorf("role: config %q entry %d missing name", path, i)
		}
		if r.Autonomy == "" {
			r.Autonomy = AutonomyBalanced
		}
		if r.SystemPrompt == "" && loader != nil {
			r.SystemPrompt = loader.RolePrompt(r.Name)
		}
		roles[r.Name] = r
	}
	return roles, nil
}

// Defaults returns the built-in architect/developer/reviewer trio, all bound
// to the same provider and model, with prompts from the loader.
func Defaults(providerName, model string, loader *prompt.PromptLoader) map[string]Role {
	mk := func(name string, autonomy Autonomy) Role {
		r := Role{
			Name:     name,
			Provider: providerName,
			Model:    model,
			Autonomy: autonomy,
		}
		if loader != nil {
			r.SystemPrompt = loader.RolePrompt(name)
		}
		return r
	}
	return map[string]Role{
		Architect: mk(Architect, AutonomyBalanced),
		Developer: mk(Developer, AutonomyAutonomous),
		Reviewer:  mk(Reviewer, AutonomyAutonomous),
	}
}
