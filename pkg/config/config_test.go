package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WessleyAI/secrag/engine/domain"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"OPENAI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY", "NEO4J_URI", "NEO4J_USER", "NEO4J_PASSWORD", "QDRANT_ADDR", "NATS_URL"} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	d := Default()
	assert.Equal(t, d.Run, cfg.Run)
	assert.Equal(t, d.LLM.Timeout, cfg.LLM.Timeout)
	assert.Empty(t, cfg.LLM.Model, "commands pick their own default model")
	assert.Equal(t, "bolt://localhost:7687", cfg.Store.Neo4j.URI)
}

func TestLoadFileAndEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "secrag.yaml")
	yaml := `
data:
  dataset: data/vulgen.json
llm:
  provider: gemini
  model: gemini-2.5-flash
  timeout: 30s
run:
  workers: 8
store:
  backend: sqlite
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("SECRAG_RUN_TOP_K", "3")
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("NEO4J_URI", "bolt://graph:7687")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "data/vulgen.json", cfg.Data.Dataset)
	assert.Equal(t, 8, cfg.Run.Workers)
	assert.Equal(t, 3, cfg.Run.TopK)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "g-key", cfg.LLM.APIKey)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "bolt://graph:7687", cfg.Store.Neo4j.URI)
	assert.Empty(t, cfg.Embed.APIKey, "ollama needs no key")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestOpenAIKeyFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
}

func TestValidate(t *testing.T) {
	ready := func() *Config {
		c := Default()
		c.LLM.APIKey = "k"
		c.Store.Neo4j.Password = "pw"
		return &c
	}

	for _, m := range []Mode{ModeIngest, ModeGenerate, ModeBaseline, ModeFilter} {
		assert.NoError(t, ready().Validate(m), m)
	}

	c := ready()
	c.LLM.APIKey = ""
	err := c.Validate(ModeGenerate)
	require.ErrorIs(t, err, domain.ErrSetup)
	require.ErrorIs(t, err, ErrMissingCredential)
	assert.Contains(t, err.Error(), "llm.api_key")
	assert.NoError(t, c.Validate(ModeIngest), "ingest never calls the model")
	assert.NoError(t, c.Validate(ModeFilter))

	c = ready()
	c.Store.Neo4j.Password = ""
	assert.ErrorIs(t, c.Validate(ModeIngest), ErrMissingCredential)
	assert.NoError(t, c.Validate(ModeBaseline), "baseline never touches the store")

	c = ready()
	c.Store.Backend = "postgres"
	assert.ErrorIs(t, c.Validate(ModeIngest), ErrInvalid)

	c = ready()
	c.LLM.Temperature = 2
	assert.ErrorIs(t, c.Validate(ModeBaseline), ErrInvalid)

	c = ready()
	c.Run.Workers = 0
	assert.ErrorIs(t, c.Validate(ModeFilter), domain.ErrSetup)

	c = ready()
	c.Embed.Provider = "openai"
	assert.ErrorIs(t, c.Validate(ModeGenerate), ErrMissingCredential)

	c = ready()
	c.Data.Dataset = ""
	err = c.Validate(ModeTail)
	require.ErrorIs(t, err, ErrMissingCredential)
	assert.Contains(t, err.Error(), "nats.url")
	assert.NotContains(t, err.Error(), "data.dataset", "tail reads no dataset")
	c.NATS.URL = "nats://localhost:4222"
	assert.NoError(t, c.Validate(ModeTail))

	c = ready()
	c.Qdrant.Enabled = true
	c.Qdrant.Collection = ""
	err = c.Validate(ModeIngest)
	require.ErrorIs(t, err, ErrMissingCredential)
	assert.Contains(t, err.Error(), "qdrant.collection")
}
