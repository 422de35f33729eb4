// internal/llm/providers/anthropic/anthropic.go
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Corphon/AdScriptStudio/internal/llm"
)

const (
	defaultBaseURL    = "https://api.anthropic.com"
	defaultAPIVersion = "2023-06-01"
	defaultModel      = "claude-3-5-haiku-latest"
	defaultMaxTokens  = 2048
)

func init() {
	llm.Register("anthropic", func() llm.Provider {
		return &Provider{
			recommendedModels: []string{
				"claude-3-5-haiku-latest",
				"claude-3-7-sonnet-latest",
				"claude-sonnet-4-0",
			},
			baseURL:    defaultBaseURL,
			apiVersion: defaultAPIVersion,
		}
	})
}

// Provider talks to the Anthropic Messages API.
type Provider struct {
	apiKey            string
	baseURL           string
	apiVersion        string
	defaultModel      string
	retrier           *llm.HTTPRetrier
	recommendedModels []string
	customModels      []string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey := strings.TrimSpace(config["api_key"])
	if apiKey == "" {
		return errors.New("anthropic api key not provided")
	}
	p.apiKey = apiKey
	p.retrier = llm.NewHTTPRetrier(&http.Client{})

	p.defaultModel = defaultModel
	if model := strings.TrimSpace(config["default_model"]); model != "" {
		p.defaultModel = model
	}
	if baseURL := strings.TrimSpace(config["base_url"]); baseURL != "" {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
	if apiVersion := strings.TrimSpace(config["api_version"]); apiVersion != "" {
		p.apiVersion = apiVersion
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
	return "anthropic"
}

func (p *Provider) GetSupportedModels() []string {
	if len(p.customModels) > 0 {
		return p.customModels
	}
	return p.recommendedModels
}

type messagesResponse struct {
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	requestBody := map[string]interface{}{
		"model":       model,
		"messages":    []map[string]string{{"role": "user", "content": req.Prompt}},
		"max_tokens":  maxTokens,
		"temperature": req.Temperature,
	}
	if req.SystemPrompt != "" {
		requestBody["system"] = req.SystemPrompt
	}
	if req.TopP > 0 {
		requestBody["top_p"] = req.TopP
	}
	if len(req.StopWords) > 0 {
		requestBody["stop_sequences"] = req.StopWords
	}
	for k, v := range req.ExtraParams {
		requestBody[k] = v
	}

	payload, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("anthropic: encode request: %w", err)
	}

	body, err := p.retrier.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("X-Api-Key", p.apiKey)
		httpReq.Header.Set("Anthropic-Version", p.apiVersion)
		return httpReq, nil
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	var response messagesResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("anthropic: decode response (%s): %w", llm.SummarizeSnippet(string(body)), err)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("anthropic: no text content (stop_reason=%q)", response.StopReason)
	}

	return &llm.CompletionResponse{
		Text:         text.String(),
		FinishReason: response.StopReason,
		TokensUsed:   response.Usage.InputTokens + response.Usage.OutputTokens,
		PromptTokens: response.Usage.InputTokens,
		OutputTokens: response.Usage.OutputTokens,
		ModelName:    model,
		ProviderName: p.GetName(),
	}, nil
}
