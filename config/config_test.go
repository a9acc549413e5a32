package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "openai", cfg.ModelProvider)
	assert.Equal(t, 8, cfg.Agent.MaxIterations)
	assert.Equal(t, 20, cfg.Agent.HistoryLimit)
	assert.Equal(t, 60*time.Second, cfg.Agent.RunTimeout)
	assert.Equal(t, 6*time.Hour, cfg.Retrieval.EmbedTTL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("PORT", "9090")
	t.Setenv("AGENT_MAX_ITERATIONS", "4")
	t.Setenv("AGENT_RUN_TIMEOUT", "30s")
	t.Setenv("MODEL_RATE_PER_SECOND", "2.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 4, cfg.Agent.MaxIterations)
	assert.Equal(t, 30*time.Second, cfg.Agent.RunTimeout)
	assert.Equal(t, 2.5, cfg.Model.RatePerSecond)
}

func TestLoadMissingProviderKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("MODEL_PROVIDER", "openai")

	_, err := Load()
	assert.ErrorContains(t, err, "OPENAI_API_KEY")
}

func TestLoadUnknownProvider(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", "llamafarm")

	_, err := Load()
	assert.ErrorContains(t, err, "MODEL_PROVIDER")
}

func TestLoadBadValuesFallBack(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("AGENT_MAX_ITERATIONS", "not-a-number")
	t.Setenv("AGENT_RUN_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Agent.MaxIterations)
	assert.Equal(t, 60*time.Second, cfg.Agent.RunTimeout)
}
