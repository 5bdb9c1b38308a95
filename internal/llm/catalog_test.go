package llm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	terrors "github.com/dyike/TradingAgentsGo/pkg/errors"
)

func TestRegistryEmbeddedCatalog(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	names := make([]string, 0)
	for _, p := range reg.List() {
		names = append(names, p.Name)
	}
	assert.Contains(t, names, "openai")
	assert.Contains(t, names, "deepseek")
	assert.Contains(t, names, "custom_openai")
	assert.IsIncreasing(t, names)

	p, m, err := reg.ResolveModel("openai", "")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name)
	assert.Equal(t, p.DefaultModel, m.Name)
	assert.Positive(t, m.ContextLength)
}

func TestRegistryRejectsUnknown(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	_, err = reg.Get("nope")
	de, ok := terrors.As(err)
	require.True(t, ok)
	assert.Equal(t, terrors.CodeValidation, de.Code)
	assert.True(t, de.HasField("llm_provider"))

	_, _, err = reg.ResolveModel("openai", "not-a-model")
	de, ok = terrors.As(err)
	require.True(t, ok)
	assert.True(t, de.HasField("llm_model"))
}

func TestRegistryArbitraryModels(t *testing.T) {
	reg, err := NewRegistry(WithCustomBaseURL("http://localhost:8000/v1"))
	require.NoError(t, err)

	p, m, err := reg.ResolveModel("custom_openai", "my-local-model")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/v1", p.BaseURL)
	assert.Equal(t, "my-local-model", m.Name)
	assert.Equal(t, 32768, m.ContextLength)
	assert.True(t, m.SupportsTools)
}

func TestRegistryOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
providers:
  - name: openai
    base_url: https://proxy.example.com/v1
    api_key_env: OPENAI_API_KEY
    default_model: gpt-test
    models:
      - {name: gpt-test, context_length: 4096, supports_tools: false, price_in: 0.001, price_out: 0.002}
  - name: local
    base_url: http://127.0.0.1:11434/v1
    api_key_env: LOCAL_KEY
    default_model: llama
    models:
      - {name: llama, context_length: 8192, supports_tools: true}
`), 0o644))

	reg, err := NewRegistry(WithCatalogFile(path))
	require.NoError(t, err)

	p, m, err := reg.ResolveModel("openai", "")
	require.NoError(t, err)
	assert.Equal(t, "https://proxy.example.com/v1", p.BaseURL)
	assert.Equal(t, "gpt-test", m.Name)
	assert.False(t, m.SupportsTools)

	_, err = reg.Get("local")
	assert.NoError(t, err)
	_, err = reg.Get("deepseek")
	assert.NoError(t, err, "embedded providers survive the override")
}

func TestRegistryBadOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("providers: [ {display_name: x} ]"), 0o644))

	_, err := NewRegistry(WithCatalogFile(path))
	assert.Error(t, err)

	_, err = NewRegistry(WithCatalogFile(filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Error(t, err)
}
