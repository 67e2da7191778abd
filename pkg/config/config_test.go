package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsFromEnvOnly(t *testing.T) {
	t.Chdir(t.TempDir()) // no config.yaml present

	cfg, err := Load("1.2.3")
	require.NoError(t, err)

	assert.Equal(t, "1.2.3", cfg.Version)
	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, "bolt://localhost:7687", cfg.Graph.URI)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 5, cfg.Pipeline.MaxFileWorkers)
	assert.Equal(t, 3000, cfg.Pipeline.MaxBatchTokens)
	assert.Equal(t, 50, cfg.Pipeline.VectorBatchSize)
	assert.Equal(t, NameCaseOriginal, cfg.Pipeline.NameCase)
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	yaml := `
project_dir: /data/project
graph:
  uri: bolt://graph:7687
pipeline:
  max_batch_tokens: 1500
  name_case: uppercase
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	t.Chdir(dir)

	t.Setenv("MAX_BATCH_TOKENS", "2000")
	t.Setenv("GRAPH_PASSWORD", "s3cret")

	cfg, err := Load("dev")
	require.NoError(t, err)

	assert.Equal(t, "/data/project", cfg.ProjectDir)
	assert.Equal(t, "bolt://graph:7687", cfg.Graph.URI)
	// Environment beats YAML.
	assert.Equal(t, 2000, cfg.Pipeline.MaxBatchTokens)
	assert.Equal(t, NameCaseUppercase, cfg.Pipeline.NameCase)
	// Secrets only come from the environment.
	assert.Equal(t, "s3cret", cfg.Graph.Password)
}

func TestLoadRejectsInvalidNameCase(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("NAME_CASE", "camel")

	_, err := Load("dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name_case")
}

func TestLoadRejectsInvalidProvider(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LLM_PROVIDER", "llama-farm")

	_, err := Load("dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider")
}

func TestLoadRejectsZeroWorkers(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MAX_FILE_WORKERS", "0")

	_, err := Load("dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker bounds")
}

func TestEffectiveEmbeddingFallbacks(t *testing.T) {
	llm := LLMConfig{Endpoint: "https://chat", APIKey: "k1"}
	assert.Equal(t, "https://chat", llm.EffectiveEmbeddingEndpoint())
	assert.Equal(t, "k1", llm.EffectiveEmbeddingAPIKey())

	llm.EmbeddingEndpoint = "https://emb"
	llm.EmbeddingAPIKey = "k2"
	assert.Equal(t, "https://emb", llm.EffectiveEmbeddingEndpoint())
	assert.Equal(t, "k2", llm.EffectiveEmbeddingAPIKey())
}
