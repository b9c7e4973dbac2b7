package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "chromem", cfg.VectorStore.Type)
	assert.Equal(t, "rrf", cfg.Retrieval.Fusion)
	assert.Equal(t, 60, cfg.Retrieval.RRFK)
	assert.Equal(t, 10*time.Second, cfg.Retrieval.Deadline)
	assert.Equal(t, 400, cfg.Chunking.TargetTokens)
	assert.Equal(t, 2000, cfg.Chat.HistoryTokenBudget)
	assert.Equal(t, 500*time.Millisecond, cfg.Chat.CancelGrace)
	assert.True(t, cfg.RateLimits.IsEnabled())
	assert.Equal(t, 10, cfg.RateLimits.Rules[EndpointChat].PerMinute)

	require.NoError(t, cfg.Validate())
}

func TestParseWithEnvExpansion(t *testing.T) {
	t.Setenv("STRATA_TEST_PORT", "9191")
	t.Setenv("STRATA_TEST_KEY", "sk-testkey12345678")

	cfg, err := Parse([]byte(`
server:
  port: ${STRATA_TEST_PORT}
embedder:
  api_key: ${STRATA_TEST_KEY}
llm:
  model: ${STRATA_UNSET_MODEL:-gpt-4o-mini}
`))
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "sk-testkey12345678", cfg.Embedder.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
}

func TestExpandEnvDefault(t *testing.T) {
	assert.Equal(t, "fallback", ExpandEnv("${DOES_NOT_EXIST_XYZ:-fallback}"))
	assert.Equal(t, "", ExpandEnv("${DOES_NOT_EXIST_XYZ}"))
}

func TestChunkingValidation(t *testing.T) {
	c := ChunkingConfig{TargetTokens: 100, OverlapTokens: 100}
	assert.Error(t, c.Validate())

	c = ChunkingConfig{TargetTokens: 100, OverlapTokens: -1}
	assert.Error(t, c.Validate())

	c = ChunkingConfig{TargetTokens: 100, OverlapTokens: 20}
	assert.NoError(t, c.Validate())
}

func TestRetrievalValidation(t *testing.T) {
	c := RetrievalConfig{}
	c.SetDefaults()
	assert.NoError(t, c.Validate())

	c.Fusion = "bogus"
	assert.Error(t, c.Validate())
}

func TestDatabaseConnectionString(t *testing.T) {
	c := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, Database: "strata", Username: "u", Password: "p", SSLMode: "disable"}
	assert.Contains(t, c.ConnectionString(), "host=db")
	assert.Contains(t, c.ConnectionString(), "dbname=strata")

	c = DatabaseConfig{Driver: "sqlite", Path: "x.db"}
	assert.Contains(t, c.ConnectionString(), "x.db")
}
