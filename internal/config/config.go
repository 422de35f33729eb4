// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const settingsFileName = "config.toml"

// process-wide settings
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
	configFile    string
)

// AppConfig holds the live settings. The LLM and limit sections are persisted
// to <data_dir>/config.toml, the rest always comes from the environment.
type AppConfig struct {
	Port      string `toml:"-"`
	DataDir   string `toml:"-"`
	LogDir    string `toml:"-"`
	DebugMode bool   `toml:"-"`

	LLMProvider string            `toml:"llm_provider"`
	LLMConfig   map[string]string `toml:"llm_config"`

	AgentTimeoutSeconds int  `toml:"agent_timeout_seconds"`
	RateLimitPerMinute  int  `toml:"rate_limit_per_minute"`
	RateLimitBurst      int  `toml:"rate_limit_burst"`
	UseRealTTS          bool `toml:"use_real_tts"`
}

// AgentTimeout returns the per-call deadline for the generative agent.
func (c *AppConfig) AgentTimeout() time.Duration {
	if c.AgentTimeoutSeconds <= 0 {
		return time.Duration(defaultAgentTimeoutSeconds) * time.Second
	}
	return time.Duration(c.AgentTimeoutSeconds) * time.Second
}

// Config is the environment snapshot read by Load.
type Config struct {
	Port                string
	DataDir             string
	LogDir              string
	DebugMode           bool
	LLMProvider         string
	LLMAPIKey           string
	LLMModel            string
	LLMBaseURL          string
	AgentTimeoutSeconds int
	UseRealTTS          bool
}

const (
	defaultAgentTimeoutSeconds = 60
	defaultRateLimitPerMinute  = 60
	defaultRateLimitBurst      = 10
)

// Load reads configuration from the environment, after an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		DataDir:             getEnvPath("DATA_DIR", "data"),
		LogDir:              getEnvPath("LOG_DIR", "logs"),
		DebugMode:           getEnvBool("DEBUG_MODE", false),
		LLMProvider:         getEnv("LLM_PROVIDER", ""),
		LLMAPIKey:           firstEnv("LLM_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY"),
		LLMModel:            getEnv("LLM_MODEL", ""),
		LLMBaseURL:          getEnv("LLM_BASE_URL", ""),
		AgentTimeoutSeconds: getEnvInt("AGENT_TIMEOUT_SECONDS", defaultAgentTimeoutSeconds),
		UseRealTTS:          getEnvBool("USE_REAL_TTS", false),
	}

	if cfg.LLMProvider == "" {
		cfg.LLMProvider = inferProvider()
	}
	if cfg.AgentTimeoutSeconds <= 0 {
		return nil, fmt.Errorf("AGENT_TIMEOUT_SECONDS must be positive, got %d", cfg.AgentTimeoutSeconds)
	}
	return cfg, nil
}

// inferProvider picks the provider matching whichever vendor key is set.
func inferProvider() string {
	switch {
	case os.Getenv("ANTHROPIC_API_KEY") != "" && os.Getenv("LLM_API_KEY") == "":
		return "anthropic"
	case os.Getenv("GEMINI_API_KEY") != "" && os.Getenv("LLM_API_KEY") == "" && os.Getenv("OPENAI_API_KEY") == "":
		return "google"
	default:
		return "openai"
	}
}

func getEnv(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := getEnv(key, ""); value != "" {
			return value
		}
	}
	return ""
}

// getEnvPath returns the path and makes sure the directory exists.
func getEnvPath(key, defaultValue string) string {
	path := getEnv(key, defaultValue)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "warning: create directory %s: %v\n", path, err)
		}
	}
	return path
}

func getEnvBool(key string, defaultValue bool) bool {
	value := strings.ToLower(getEnv(key, ""))
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

func getEnvInt(key string, defaultValue int) int {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

// InitConfig builds the live configuration from the environment and merges the
// saved settings file in dataDir, if any.
func InitConfig(dataDir string) error {
	baseConfig, err := Load()
	if err != nil {
		return err
	}

	configMutex.Lock()
	defer configMutex.Unlock()

	configFile = filepath.Join(dataDir, settingsFileName)
	currentConfig = fromEnvironment(baseConfig)
	currentConfig.DataDir = dataDir

	if data, err := os.ReadFile(configFile); err == nil {
		var saved AppConfig
		if err := toml.Unmarshal(data, &saved); err != nil {
			return fmt.Errorf("parse %s: %w", configFile, err)
		}
		mergeSaved(currentConfig, &saved, baseConfig)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read %s: %w", configFile, err)
	}

	return saveLocked()
}

func fromEnvironment(base *Config) *AppConfig {
	llmConfig := map[string]string{"api_key": base.LLMAPIKey}
	if base.LLMModel != "" {
		llmConfig["default_model"] = base.LLMModel
	}
	if base.LLMBaseURL != "" {
		llmConfig["base_url"] = base.LLMBaseURL
	}
	return &AppConfig{
		Port:                base.Port,
		DataDir:             base.DataDir,
		LogDir:              base.LogDir,
		DebugMode:           base.DebugMode,
		LLMProvider:         base.LLMProvider,
		LLMConfig:           llmConfig,
		AgentTimeoutSeconds: base.AgentTimeoutSeconds,
		RateLimitPerMinute:  defaultRateLimitPerMinute,
		RateLimitBurst:      defaultRateLimitBurst,
		UseRealTTS:          base.UseRealTTS,
	}
}

// mergeSaved keeps the saved LLM settings and limits. Explicit environment
// values for the provider key still win over an empty saved key.
func mergeSaved(cur, saved *AppConfig, base *Config) {
	if saved.LLMProvider != "" {
		cur.LLMProvider = saved.LLMProvider
	}
	if saved.LLMConfig != nil {
		merged := make(map[string]string, len(saved.LLMConfig)+1)
		for k, v := range saved.LLMConfig {
			merged[k] = v
		}
		if merged["api_key"] == "" {
			merged["api_key"] = base.LLMAPIKey
		}
		cur.LLMConfig = merged
	}
	if saved.AgentTimeoutSeconds > 0 && os.Getenv("AGENT_TIMEOUT_SECONDS") == "" {
		cur.AgentTimeoutSeconds = saved.AgentTimeoutSeconds
	}
	if saved.RateLimitPerMinute > 0 {
		cur.RateLimitPerMinute = saved.RateLimitPerMinute
	}
	if saved.RateLimitBurst > 0 {
		cur.RateLimitBurst = saved.RateLimitBurst
	}
	if saved.UseRealTTS {
		cur.UseRealTTS = true
	}
}

// GetCurrentConfig returns a copy of the live configuration.
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		base, err := Load()
		if err != nil {
			base = &Config{Port: "8080", DataDir: "data", LogDir: "logs", LLMProvider: "openai", AgentTimeoutSeconds: defaultAgentTimeoutSeconds}
		}
		return fromEnvironment(base)
	}

	configCopy := *currentConfig
	configCopy.LLMConfig = make(map[string]string, len(currentConfig.LLMConfig))
	for k, v := range currentConfig.LLMConfig {
		configCopy.LLMConfig[k] = v
	}
	return &configCopy
}

// UpdateLLMConfig switches the provider settings and persists them.
func UpdateLLMConfig(provider string, cfg map[string]string) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("config not initialized")
	}

	currentConfig.LLMProvider = provider
	currentConfig.LLMConfig = make(map[string]string, len(cfg))
	for k, v := range cfg {
		currentConfig.LLMConfig[k] = v
	}
	return saveLocked()
}

// SaveConfig writes the live settings to the settings file.
func SaveConfig() error {
	configMutex.Lock()
	defer configMutex.Unlock()
	return saveLocked()
}

func saveLocked() error {
	if currentConfig == nil {
		return fmt.Errorf("no config to save")
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := toml.Marshal(currentConfig)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	// api keys live in this file
	return os.WriteFile(configFile, data, 0o600)
}
