package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the YAML service configuration: model backends, routing
// profiles, and the agent identity. Operational knobs (ports, DSNs, log
// level) stay in the environment.
type Config struct {
	Identity     string             `yaml:"identity"`
	DefaultModel string             `yaml:"default_model"`
	Backends     []Backend          `yaml:"backends"`
	Profiles     map[string]Profile `yaml:"profiles"`
	Retrieval    Retrieval          `yaml:"retrieval"`
}

// Backend configures one provider client, in fallback priority order.
type Backend struct {
	ID             string   `yaml:"id"`
	Type           string   `yaml:"type"` // "openai", "anthropic", "ollama"
	BaseURL        string   `yaml:"base_url"`
	APIKeyEnv      string   `yaml:"api_key_env"` // env var holding the key, never the key itself
	Models         []string `yaml:"models"`
	DefaultModel   string   `yaml:"default_model"`
	EmbeddingModel string   `yaml:"embedding_model"` // ollama only
}

// Profile is a selectable model configuration.
type Profile struct {
	Model         string  `yaml:"model"`
	Temperature   float64 `yaml:"temperature"`
	MaxTokens     int     `yaml:"max_tokens"`
	ContextTokens int     `yaml:"context_tokens"`
	SystemPrompt  string  `yaml:"system_prompt"`
}

// Retrieval configures the optional retrieval-context service.
type Retrieval struct {
	BaseURL string `yaml:"base_url"`
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("at least one backend is required")
	}
	seen := make(map[string]bool, len(c.Backends))
	for i, b := range c.Backends {
		if b.ID == "" {
			return fmt.Errorf("backend %d: id is required", i)
		}
		if seen[b.ID] {
			return fmt.Errorf("backend %q: duplicate id", b.ID)
		}
		seen[b.ID] = true
		switch b.Type {
		case "openai", "anthropic", "ollama":
		default:
			return fmt.Errorf("backend %q: unknown type %q", b.ID, b.Type)
		}
		if b.Type != "ollama" && b.APIKeyEnv == "" {
			return fmt.Errorf("backend %q: api_key_env is required", b.ID)
		}
	}
	for name, p := range c.Profiles {
		if p.Model == "" {
			return fmt.Errorf("profile %q: model is required", name)
		}
	}
	if c.Identity == "" {
		c.Identity = "You are a governed enterprise assistant. Follow the constraints below exactly."
	}
	return nil
}

// ProfileModels maps profile name to default model, the shape the router
// consumes.
func (c *Config) ProfileModels() map[string]string {
	out := make(map[string]string, len(c.Profiles))
	for name, p := range c.Profiles {
		out[name] = p.Model
	}
	return out
}
