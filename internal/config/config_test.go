package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, key := range []string{
		"PORT", "LLM_PROVIDER", "LLM_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY",
		"GEMINI_API_KEY", "LLM_MODEL", "LLM_BASE_URL", "AGENT_TIMEOUT_SECONDS", "USE_REAL_TTS", "DEBUG_MODE",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("LOG_DIR", filepath.Join(dir, "logs"))
	t.Cleanup(func() {
		configMutex.Lock()
		currentConfig = nil
		configFile = ""
		configMutex.Unlock()
	})
	return dir
}

func TestLoadDefaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "openai", cfg.LLMProvider)
	assert.Equal(t, 60, cfg.AgentTimeoutSeconds)
	assert.False(t, cfg.UseRealTTS)
	assert.DirExists(t, filepath.Join(dir, "data"))
	assert.DirExists(t, filepath.Join(dir, "logs"))
}

func TestLoadKeyFallbacks(t *testing.T) {
	isolate(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-ant", cfg.LLMAPIKey)
	assert.Equal(t, "anthropic", cfg.LLMProvider)

	t.Setenv("LLM_API_KEY", "generic")
	t.Setenv("LLM_PROVIDER", "google")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "generic", cfg.LLMAPIKey)
	assert.Equal(t, "google", cfg.LLMProvider)
}

func TestLoadRejectsNonPositiveTimeout(t *testing.T) {
	isolate(t)
	t.Setenv("AGENT_TIMEOUT_SECONDS", "-3")

	_, err := Load()
	require.Error(t, err)
}

func TestInitConfigPersistsAndMerges(t *testing.T) {
	dir := isolate(t)
	dataDir := filepath.Join(dir, "data")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("AGENT_TIMEOUT_SECONDS", "15")

	require.NoError(t, InitConfig(dataDir))
	cfg := GetCurrentConfig()
	assert.Equal(t, "openai", cfg.LLMProvider)
	assert.Equal(t, "sk-env", cfg.LLMConfig["api_key"])
	assert.Equal(t, 15*time.Second, cfg.AgentTimeout())
	assert.FileExists(t, filepath.Join(dataDir, "config.toml"))

	require.NoError(t, UpdateLLMConfig("anthropic", map[string]string{"api_key": "", "default_model": "claude-3-5-haiku-latest"}))

	// a fresh process reads the saved provider back, with the env key filling the blank
	require.NoError(t, InitConfig(dataDir))
	cfg = GetCurrentConfig()
	assert.Equal(t, "anthropic", cfg.LLMProvider)
	assert.Equal(t, "claude-3-5-haiku-latest", cfg.LLMConfig["default_model"])
	assert.Equal(t, "sk-env", cfg.LLMConfig["api_key"])

	info, err := os.Stat(filepath.Join(dataDir, "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestGetCurrentConfigReturnsCopy(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, InitConfig(filepath.Join(dir, "data")))

	cfg := GetCurrentConfig()
	cfg.LLMConfig["api_key"] = "mutated"
	cfg.LLMProvider = "mutated"

	fresh := GetCurrentConfig()
	assert.NotEqual(t, "mutated", fresh.LLMConfig["api_key"])
	assert.NotEqual(t, "mutated", fresh.LLMProvider)
}

func TestUpdateLLMConfigRequiresInit(t *testing.T) {
	isolate(t)
	require.Error(t, UpdateLLMConfig("openai", nil))
}
