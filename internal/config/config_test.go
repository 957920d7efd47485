package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRequiresDatabaseURL(t *testing.T) {
	cfg := Config{Port: 8080, EmbeddingDim: 384, LLMProvider: "noop", TrackerMode: "mock", ExecuteMaxRetries: 3}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Config{
		DatabaseURL:       "postgres://x",
		Port:              0,
		EmbeddingDim:      384,
		LLMProvider:       "noop",
		TrackerMode:       "mock",
		ExecuteMaxRetries: 3,
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
}

func TestValidateRequiresTrackerBaseURLWhenLive(t *testing.T) {
	cfg := Config{
		DatabaseURL:       "postgres://x",
		Port:              8080,
		EmbeddingDim:      384,
		LLMProvider:       "noop",
		TrackerMode:       "live",
		ExecuteMaxRetries: 3,
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRACKER_BASE_URL")
}

func TestValidatePasses(t *testing.T) {
	cfg := Config{
		DatabaseURL:       "postgres://x",
		Port:              8080,
		EmbeddingDim:      384,
		LLMProvider:       "openai",
		TrackerMode:       "mock",
		ExecuteMaxRetries: 3,
	}
	assert.NoError(t, cfg.Validate())
}

func TestValidateAcceptsOllamaProvider(t *testing.T) {
	cfg := Config{
		DatabaseURL:       "postgres://x",
		Port:              8080,
		EmbeddingDim:      384,
		LLMProvider:       "ollama",
		TrackerMode:       "mock",
		ExecuteMaxRetries: 3,
	}
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	cfg := Config{
		DatabaseURL:       "postgres://x",
		Port:              8080,
		EmbeddingDim:      384,
		LLMProvider:       "anthropic",
		TrackerMode:       "mock",
		ExecuteMaxRetries: 3,
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LLM_PROVIDER")
}

func TestEnvStrMapParsesPairs(t *testing.T) {
	t.Setenv("TEST_MAP", "checkout=CHK,billing=BIL")
	got := envStrMap("TEST_MAP", nil)
	assert.Equal(t, map[string]string{"checkout": "CHK", "billing": "BIL"}, got)
}
