package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLiteConfig(t *testing.T) {
	cfg := DefaultLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 256, cfg.CacheMaxItems)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 200.0, cfg.UnitSessionCost)
	assert.Equal(t, 80.0, cfg.DefaultCoverage)
	assert.Equal(t, 20*time.Second, cfg.AITimeout)
	assert.False(t, cfg.AutoSubmitClaims)
	assert.Empty(t, cfg.AIAPIKey)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadLiteConfig_Defaults(t *testing.T) {
	clearEnvVars(t)

	cfg := LoadLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 256, cfg.CacheMaxItems)
	assert.Equal(t, "gpt-4o-mini", cfg.AIModel)
}

func TestLoadLiteConfig_EnvironmentOverrides(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("CLAIMS_DATA_DIR", "/tmp/test-claims")
	t.Setenv("CLAIMS_CACHE_MAX_ITEMS", "500")
	t.Setenv("CLAIMS_CACHE_TTL", "1h")
	t.Setenv("CLAIMS_AI_API_KEY", "test-key")
	t.Setenv("CLAIMS_AI_TIMEOUT", "15s")
	t.Setenv("CLAIMS_UNIT_SESSION_COST", "150")
	t.Setenv("CLAIMS_DEFAULT_COVERAGE", "90")
	t.Setenv("CLAIMS_AUTO_SUBMIT", "true")
	t.Setenv("CLAIMS_AI_FIELD_SUGGESTIONS", "1")
	t.Setenv("CLAIMS_LOG_LEVEL", "debug")

	cfg := LoadLiteConfig()

	assert.Equal(t, "/tmp/test-claims", cfg.DataDir)
	assert.Equal(t, 500, cfg.CacheMaxItems)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Equal(t, "test-key", cfg.AIAPIKey)
	assert.Equal(t, 15*time.Second, cfg.AITimeout)
	assert.Equal(t, 150.0, cfg.UnitSessionCost)
	assert.Equal(t, 90.0, cfg.DefaultCoverage)
	assert.True(t, cfg.AutoSubmitClaims)
	assert.True(t, cfg.AIFieldSuggestions)
	assert.Equal(t, "debug", cfg.LogLevel)

	workflow := cfg.Workflow()
	assert.Equal(t, 150.0, workflow.UnitSessionCost)
	assert.True(t, workflow.AutoSubmitClaims)
	assert.Equal(t, "test-key", cfg.AI().APIKey)
}

func TestLoadLiteConfig_InvalidValuesKeepDefaults(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("CLAIMS_CACHE_MAX_ITEMS", "-3")
	t.Setenv("CLAIMS_DEFAULT_COVERAGE", "140")
	t.Setenv("CLAIMS_UNIT_SESSION_COST", "free")
	t.Setenv("CLAIMS_AUTO_SUBMIT", "sometimes")

	cfg := LoadLiteConfig()

	assert.Equal(t, 256, cfg.CacheMaxItems)
	assert.Equal(t, 80.0, cfg.DefaultCoverage)
	assert.Equal(t, 200.0, cfg.UnitSessionCost)
	assert.False(t, cfg.AutoSubmitClaims)
}

func TestLiteConfig_Paths(t *testing.T) {
	cfg := &LiteConfig{DataDir: "/home/user/.claim-automation"}

	assert.Equal(t, "/home/user/.claim-automation/claims.db", cfg.ClaimsDBPath())
	assert.Equal(t, "/home/user/.claim-automation/templates.db", cfg.TemplatesDBPath())
	assert.Equal(t, "/home/user/.claim-automation/exports", cfg.ExportDir())
}

func TestLiteConfig_EnsureDataDir(t *testing.T) {
	cfg := &LiteConfig{DataDir: filepath.Join(t.TempDir(), "claims")}

	err := cfg.EnsureDataDir()
	require.NoError(t, err)

	_, err = os.Stat(cfg.DataDir)
	assert.NoError(t, err)

	_, err = os.Stat(cfg.ExportDir())
	assert.NoError(t, err)
}

func clearEnvVars(t *testing.T) {
	t.Helper()
	vars := []string{
		"CLAIMS_DATA_DIR",
		"CLAIMS_CACHE_MAX_ITEMS",
		"CLAIMS_CACHE_TTL",
		"CLAIMS_AI_BASE_URL",
		"CLAIMS_AI_API_KEY",
		"CLAIMS_AI_MODEL",
		"CLAIMS_AI_TIMEOUT",
		"CLAIMS_UNIT_SESSION_COST",
		"CLAIMS_DEFAULT_COVERAGE",
		"CLAIMS_AUTO_SUBMIT",
		"CLAIMS_AI_FIELD_SUGGESTIONS",
		"CLAIMS_LOG_LEVEL",
		"CLAIMS_LOG_FORMAT",
	}
	for _, v := range vars {
		// t.Setenv restores the original value when the test ends
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
}
