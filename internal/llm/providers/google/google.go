// internal/llm/providers/google/google.go
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/Corphon/AdScriptStudio/internal/llm"
)

const defaultModel = "gemini-2.5-flash"

func init() {
	llm.Register("google", func() llm.Provider {
		return &Provider{
			recommendedModels: []string{
				"gemini-2.5-flash",
				"gemini-2.5-pro",
				"gemini-2.0-flash",
			},
		}
	})
}

// Provider calls Gemini through the genai SDK.
type Provider struct {
	client            *genai.Client
	defaultModel      string
	recommendedModels []string
	customModels      []string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey := strings.TrimSpace(config["api_key"])
	if apiKey == "" {
		return errors.New("google api key not provided")
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL := strings.TrimSpace(config["base_url"]); baseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return fmt.Errorf("google: create client: %w", err)
	}
	p.client = client

	p.defaultModel = defaultModel
	if model := strings.TrimSpace(config["default_model"]); model != "" {
		p.defaultModel = model
	}
	if raw := config["custom_models"]; raw != "" {
		var models []string
		if err := json.Unmarshal([]byte(raw), &models); err == nil && len(models) > 0 {
			p.customModels = models
		}
	}
	return nil
}

func (p *Provider) GetName() string {
	return "google"
}

func (p *Provider) GetSupportedModels() []string {
	if len(p.customModels) > 0 {
		return p.customModels
	}
	return p.recommendedModels
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if p.client == nil {
		return nil, errors.New("google: provider not initialized")
	}
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.TopP > 0 {
		config.TopP = genai.Ptr(req.TopP)
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.StopWords) > 0 {
		config.StopSequences = req.StopWords
	}

	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
	resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("google: generate content: %w", err)
	}

	text := resp.Text()
	finishReason := ""
	if len(resp.Candidates) > 0 {
		finishReason = string(resp.Candidates[0].FinishReason)
	}
	if text == "" {
		return nil, fmt.Errorf("google: empty content (finish_reason=%q)", finishReason)
	}

	out := &llm.CompletionResponse{
		Text:         text,
		FinishReason: finishReason,
		ModelName:    model,
		ProviderName: p.GetName(),
	}
	if resp.UsageMetadata != nil {
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		out.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	return out, nil
}
