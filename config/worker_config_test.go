package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModelCatalog(t *testing.T) {
	env := map[string]string{"OPENAI_API_KEY": "sk-test"}
	catalog, err := ParseModelCatalog([]byte(defaultModelCatalog), func(k string) string { return env[k] })
	require.NoError(t, err)

	require.Len(t, catalog.Providers, 3)
	assert.Equal(t, "sk-test", catalog.Providers[0].APIKey)
	assert.Empty(t, catalog.Providers[1].APIKey)
	assert.Equal(t, ModelRef{Provider: "openai", Model: "gpt-4o-mini"}, catalog.Defaults.Primary)
	require.Len(t, catalog.Defaults.Fallbacks, 1)
	assert.Equal(t, "meta-llama/llama-3.1-70b-instruct", catalog.Defaults.Fallbacks[0].Model)
}

func TestParseModelCatalog_RejectsUnknownDefaults(t *testing.T) {
	_, err := ParseModelCatalog([]byte(`
providers:
  - name: openai
    base_url: https://api.openai.com/v1
defaults:
  primary: anthropic/claude
`), func(string) string { return "" })
	assert.ErrorContains(t, err, `unknown provider "anthropic"`)

	_, err = ParseModelCatalog([]byte(`providers: []`), func(string) string { return "" })
	assert.Error(t, err)
}

func TestLoad_Validation(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("ENCRYPTION_KEY", "")
	_, err := Load()
	assert.ErrorContains(t, err, "DATABASE_URL is required")
	assert.ErrorContains(t, err, "ENCRYPTION_KEY is required")

	t.Setenv("DATABASE_URL", "postgres://localhost/jenn")
	t.Setenv("ENCRYPTION_KEY", "k")
	t.Setenv("SUPABASE_URL", "https://abc.supabase.co/")
	t.Setenv("SYNC_ADVANCE_POLICY", "contiguous")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://abc.supabase.co/auth/v1/.well-known/jwks.json", cfg.JWKSURL())
}
