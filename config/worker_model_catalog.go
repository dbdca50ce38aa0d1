package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Model Catalog - LLM provider 목록 (MODEL_CATALOG_PATH)
// =============================================================================

// ProviderConfig is one OpenAI-compatible endpoint.
type ProviderConfig struct {
	Name         string `yaml:"name"`
	BaseURL      string `yaml:"base_url"`
	APIKeyEnv    string `yaml:"api_key_env"`
	DefaultModel string `yaml:"default_model"`

	// APIKey is resolved from APIKeyEnv at load time.
	APIKey string `yaml:"-"`
}

// ModelRef is a "provider/model" pair. An empty model means the provider default.
type ModelRef struct {
	Provider string
	Model    string
}

func (r *ModelRef) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	ref, err := ParseModelRef(raw)
	if err != nil {
		return err
	}
	*r = ref
	return nil
}

// ParseModelRef splits "provider/model" on the first slash so model names may contain slashes.
func ParseModelRef(raw string) (ModelRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ModelRef{}, fmt.Errorf("empty model reference")
	}
	provider, model, _ := strings.Cut(raw, "/")
	return ModelRef{Provider: provider, Model: model}, nil
}

// ModelDefaults is the plan used for accounts without their own model settings.
type ModelDefaults struct {
	Primary   ModelRef   `yaml:"primary"`
	Backup    *ModelRef  `yaml:"backup"`
	Fallbacks []ModelRef `yaml:"fallbacks"`
}

type ModelCatalog struct {
	Providers []ProviderConfig `yaml:"providers"`
	Defaults  ModelDefaults    `yaml:"defaults"`
}

const defaultModelCatalog = `
providers:
  - name: openai
    base_url: https://api.openai.com/v1
    api_key_env: OPENAI_API_KEY
    default_model: gpt-4o-mini
  - name: openrouter
    base_url: https://openrouter.ai/api/v1
    api_key_env: OPENROUTER_API_KEY
    default_model: meta-llama/llama-3.1-70b-instruct
  - name: groq
    base_url: https://api.groq.com/openai/v1
    api_key_env: GROQ_API_KEY
    default_model: llama-3.1-70b-versatile
defaults:
  primary: openai/gpt-4o-mini
  fallbacks:
    - openrouter/meta-llama/llama-3.1-70b-instruct
`

// LoadModelCatalog reads the YAML catalog at path, or the built-in one when path is empty.
// Provider keys are resolved from the environment.
func LoadModelCatalog(path string) (*ModelCatalog, error) {
	data := []byte(defaultModelCatalog)
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read model catalog: %w", err)
		}
	}
	return ParseModelCatalog(data, os.Getenv)
}

// ParseModelCatalog decodes and validates a catalog. lookup resolves api_key_env names.
func ParseModelCatalog(data []byte, lookup func(string) string) (*ModelCatalog, error) {
	var catalog ModelCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse model catalog: %w", err)
	}
	if len(catalog.Providers) == 0 {
		return nil, fmt.Errorf("model catalog has no providers")
	}

	known := make(map[string]bool, len(catalog.Providers))
	for i := range catalog.Providers {
		p := &catalog.Providers[i]
		if p.Name == "" || p.BaseURL == "" {
			return nil, fmt.Errorf("model catalog provider %d: name and base_url are required", i)
		}
		if p.APIKeyEnv != "" {
			p.APIKey = lookup(p.APIKeyEnv)
		}
		known[strings.ToLower(p.Name)] = true
	}

	if catalog.Defaults.Primary.Provider == "" {
		return nil, fmt.Errorf("model catalog: defaults.primary is required")
	}
	refs := append([]ModelRef{catalog.Defaults.Primary}, catalog.Defaults.Fallbacks...)
	if catalog.Defaults.Backup != nil {
		refs = append(refs, *catalog.Defaults.Backup)
	}
	for _, ref := range refs {
		if !known[strings.ToLower(ref.Provider)] {
			return nil, fmt.Errorf("model catalog: unknown provider %q in defaults", ref.Provider)
		}
	}
	return &catalog, nil
}
