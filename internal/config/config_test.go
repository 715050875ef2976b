package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meridian.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Valid(t *testing.T) {
	path := writeConfig(t, `
default_model: gpt-4o-mini
backends:
  - id: openai
    type: openai
    base_url: https://api.openai.com
    api_key_env: OPENAI_API_KEY
    models: [gpt-4o, gpt-4o-mini]
    default_model: gpt-4o-mini
  - id: local
    type: ollama
    base_url: http://localhost:11434
    models: [llama3.1]
    default_model: llama3.1
profiles:
  fast:
    model: gpt-4o-mini
    temperature: 0.7
    max_tokens: 512
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Backends) != 2 {
		t.Errorf("expected 2 backends, got %d", len(cfg.Backends))
	}
	if cfg.Identity == "" {
		t.Error("identity should default when unset")
	}
	if got := cfg.ProfileModels()["fast"]; got != "gpt-4o-mini" {
		t.Errorf("profile model mapping wrong: %q", got)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no backends", "profiles: {}"},
		{"unknown type", `
backends:
  - id: x
    type: bedrock
    api_key_env: K
`},
		{"missing key env", `
backends:
  - id: x
    type: openai
`},
		{"duplicate id", `
backends:
  - id: x
    type: ollama
  - id: x
    type: ollama
`},
		{"profile without model", `
backends:
  - id: x
    type: ollama
profiles:
  broken:
    temperature: 1.0
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
