package provider

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// configFile mirrors the top-level structure of providers.yaml.
type configFile struct {
	Providers []Config `yaml:"providers"`
}

// LoadConfigFile reads provider configurations from a YAML document:
//
//	providers:
//	  - name: primary
//	    family: openai
//	    base_url: https://api.openai.com/v1
//	    credential_env: OPENAI_API_KEY
//	    tool_mode: auto
//	    default_model: gpt-4o
func LoadConfigFile(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("provider: read config %q: %w", path, err)
	}
	var file configFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("provider: parse config %q: %w", path, err)
	}
	for i, cfg := range file.Providers {
		if cfg.Name == "" {
			return nil, fmt.Errorf("provider: config %q entry %d missing name", path, i)
		}
		if cfg.Family == "" {
			return nil, fmt.Errorf("provider: config %q entry %q missing family", path, cfg.Name)
		}
	}
	return file.Providers, nil
}
