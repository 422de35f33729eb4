// internal/services/llm_service.go
package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/AdScriptStudio/internal/config"
	apperrors "github.com/Corphon/AdScriptStudio/internal/errors"
	"github.com/Corphon/AdScriptStudio/internal/llm"
	"github.com/Corphon/AdScriptStudio/internal/storage"
	"github.com/Corphon/AdScriptStudio/internal/utils"
)

// ErrLLMNotReady is wrapped by Complete when no provider is configured.
var ErrLLMNotReady = errors.New("llm service not ready")

const (
	readyStateReady = "Ready"
	cacheTTL        = 30 * time.Minute
	cacheSize       = 500
)

var providerDefaultModels = map[string]string{
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-3-5-haiku-latest",
	"google":    "gemini-2.5-flash",
}

// LLMService owns the active provider and is the only caller of the agent.
type LLMService struct {
	providerMutex      sync.RWMutex
	provider           llm.Provider
	providerName       string
	activeDefaultModel string
	isReady            bool
	readyState         string

	cache   *storage.ResponseCache
	metrics *utils.APIMetrics
	logger  *utils.Logger
}

// CompletionOptions tunes one agent call.
type CompletionOptions struct {
	SystemPrompt string
	Prompt       string
	Temperature  float32
	MaxTokens    int
	// UseCache returns a stored reply for an identical prompt within the TTL.
	UseCache bool
}

// NewLLMService builds the service from cfg. A missing or broken provider
// configuration yields a not-ready service rather than an error.
func NewLLMService(cfg *config.AppConfig, metrics *utils.APIMetrics) *LLMService {
	service := createBaseLLMService(metrics)
	if cfg == nil {
		service.readyState = "Failed to retrieve configuration"
		return service
	}
	if cfg.LLMProvider == "" {
		service.readyState = "LLM provider not configured"
		return service
	}
	if cfg.LLMConfig == nil || strings.TrimSpace(cfg.LLMConfig["api_key"]) == "" {
		service.readyState = "API key not configured"
		return service
	}

	provider, err := llm.GetProvider(cfg.LLMProvider, cfg.LLMConfig)
	if err != nil {
		service.readyState = fmt.Sprintf("Initialization failed: %v", err)
		return service
	}
	service.setProvider(cfg.LLMProvider, provider, extractDefaultModel(cfg.LLMConfig))
	return service
}

// NewLLMServiceWithProvider wraps an already initialized provider.
func NewLLMServiceWithProvider(provider llm.Provider, metrics *utils.APIMetrics) *LLMService {
	service := createBaseLLMService(metrics)
	service.setProvider(provider.GetName(), provider, "")
	return service
}

func createBaseLLMService(metrics *utils.APIMetrics) *LLMService {
	if metrics == nil {
		metrics = utils.NewAPIMetrics()
	}
	return &LLMService{
		readyState: "Uninitialized",
		cache:      storage.NewResponseCache(cacheSize, cacheTTL),
		metrics:    metrics,
		logger:     utils.GetLogger(),
	}
}

func (s *LLMService) setProvider(name string, provider llm.Provider, defaultModel string) {
	s.provider = provider
	s.providerName = name
	s.activeDefaultModel = defaultModel
	s.isReady = true
	s.readyState = readyStateReady
}

// IsReady reports whether a provider is configured.
func (s *LLMService) IsReady() bool {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider != nil && s.isReady
}

// GetReadyState describes the service state for the status endpoint.
func (s *LLMService) GetReadyState() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.readyState
}

// GetProviderStatus returns readiness and a readable description.
func (s *LLMService) GetProviderStatus() (bool, string) {
	if s == nil {
		return false, "LLM service not initialized"
	}
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider != nil && s.isReady, s.readyState
}

// GetProviderName returns the active provider name, empty when not ready.
func (s *LLMService) GetProviderName() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.providerName
}

// GetSupportedModels lists the active provider's models.
func (s *LLMService) GetSupportedModels() []string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	if s.provider == nil {
		return nil
	}
	return s.provider.GetSupportedModels()
}

// UpdateProvider swaps the provider and clears the response cache.
func (s *LLMService) UpdateProvider(providerName string, cfg map[string]string) error {
	provider, err := llm.GetProvider(providerName, cfg)
	if err != nil {
		s.providerMutex.Lock()
		s.isReady = false
		s.readyState = fmt.Sprintf("Configuration failed: %v", err)
		s.providerMutex.Unlock()
		return err
	}

	s.providerMutex.Lock()
	s.setProvider(providerName, provider, extractDefaultModel(cfg))
	s.providerMutex.Unlock()

	s.cache.Clear()
	s.logger.Info("LLM provider updated", map[string]interface{}{
		"provider": providerName,
		"model":    s.GetDefaultModel(),
	})
	return nil
}

// GetDefaultModel returns the model used when a request names none.
func (s *LLMService) GetDefaultModel() string {
	s.providerMutex.RLock()
	provider := s.provider
	providerName := s.providerName
	activeDefault := s.activeDefaultModel
	s.providerMutex.RUnlock()

	if activeDefault != "" {
		return activeDefault
	}
	if provider != nil {
		if models := provider.GetSupportedModels(); len(models) > 0 && strings.TrimSpace(models[0]) != "" {
			return strings.TrimSpace(models[0])
		}
	}
	if model, ok := providerDefaultModels[providerName]; ok {
		return model
	}
	return ""
}

// Complete sends one prompt to the agent and returns its raw reply.
func (s *LLMService) Complete(ctx context.Context, opts CompletionOptions) (*llm.CompletionResponse, error) {
	s.providerMutex.RLock()
	provider := s.provider
	providerName := s.providerName
	ready := s.isReady
	state := s.readyState
	s.providerMutex.RUnlock()

	if provider == nil || !ready {
		return nil, apperrors.NewUnavailableError("LLM service not ready: "+state, ErrLLMNotReady)
	}

	model := s.GetDefaultModel()
	cacheKey := ""
	if opts.UseCache {
		cacheKey = generateCacheKey(providerName, model, opts.SystemPrompt, opts.Prompt)
		if text, ok := s.cache.Get(cacheKey); ok {
			s.metrics.Collector().IncrementCounter("llm_cache_hits")
			return &llm.CompletionResponse{Text: text, ModelName: model, ProviderName: providerName}, nil
		}
	}

	start := time.Now()
	resp, err := provider.CompleteText(ctx, llm.CompletionRequest{
		Prompt:       opts.Prompt,
		SystemPrompt: opts.SystemPrompt,
		Model:        model,
		Temperature:  opts.Temperature,
		MaxTokens:    opts.MaxTokens,
	})
	duration := time.Since(start)
	if err != nil {
		s.metrics.RecordError("llm_request", providerName)
		if ctx.Err() != nil {
			return nil, apperrors.NewTimeoutError("agent did not answer in time", ctx.Err())
		}
		return nil, apperrors.NewAgentError("agent request failed", err)
	}

	s.metrics.RecordLLMRequest(providerName, resp.ModelName, resp.TokensUsed, duration)
	if cacheKey != "" {
		s.cache.Set(cacheKey, resp.Text)
	}
	return resp, nil
}

// TestConnection sends a tiny prompt to verify credentials and reachability.
func (s *LLMService) TestConnection(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	_, err := s.Complete(ctx, CompletionOptions{
		Prompt:    "Reply with the single word: ok",
		MaxTokens: 16,
	})
	return time.Since(start), err
}

// StartCacheCleanup drops expired cached replies every interval until ctx ends.
func (s *LLMService) StartCacheCleanup(ctx context.Context, interval time.Duration) {
	s.cache.StartCleanup(ctx, interval)
}

func generateCacheKey(parts ...string) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func extractDefaultModel(cfg map[string]string) string {
	if cfg == nil {
		return ""
	}
	if model := strings.TrimSpace(cfg["default_model"]); model != "" {
		return model
	}
	return strings.TrimSpace(cfg["model"])
}
