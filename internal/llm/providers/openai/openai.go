// internal/llm/providers/openai/openai.go
package openai

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
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
)

func init() {
	llm.Register("openai", func() llm.Provider {
		return &Provider{
			recommendedModels: []string{"gpt-4o-mini", "gpt-4o", "gpt-4.1-mini"},
			baseURL:           defaultBaseURL,
		}
	})
}

// Provider speaks the chat-completions protocol. Any compatible endpoint
// (OpenRouter, DeepSeek, Qwen, GLM, Grok) works through base_url.
type Provider struct {
	apiKey            string
	baseURL           string
	defaultModel      string
	httpReferer       string
	appName           string
	retrier           *llm.HTTPRetrier
	recommendedModels []string
	customModels      []string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey := strings.TrimSpace(config["api_key"])
	if apiKey == "" {
		return errors.New("openai api key not provided")
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
	// OpenRouter attribution headers
	p.httpReferer = config["http_referer"]
	p.appName = config["app_name"]

	if raw := config["custom_models"]; raw != "" {
		var models []string
		if err := json.Unmarshal([]byte(raw), &models); err == nil && len(models) > 0 {
			p.customModels = models
		}
	}
	return nil
}

func (p *Provider) GetName() string {
	return "openai"
}

func (p *Provider) GetSupportedModels() []string {
	if len(p.customModels) > 0 {
		return p.customModels
	}
	return p.recommendedModels
}

type chatMessage struct {
	Content string `json:"content"`
	Refusal string `json:"refusal"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
		// some compatible servers answer with the streaming shape
		Delta        chatMessage `json:"delta"`
		Text         string      `json:"text"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := []map[string]string{{"role": "user", "content": req.Prompt}}
	if req.SystemPrompt != "" {
		messages = append([]map[string]string{{"role": "system", "content": req.SystemPrompt}}, messages...)
	}

	requestBody := map[string]interface{}{
		"model":       model,
		"messages":    messages,
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		requestBody["max_tokens"] = req.MaxTokens
	}
	if req.TopP > 0 {
		requestBody["top_p"] = req.TopP
	}
	if len(req.StopWords) > 0 {
		requestBody["stop"] = req.StopWords
	}
	for k, v := range req.ExtraParams {
		requestBody[k] = v
	}

	payload, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("openai: encode request: %w", err)
	}

	body, err := p.retrier.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
		if p.httpReferer != "" {
			httpReq.Header.Set("HTTP-Referer", p.httpReferer)
		}
		if p.appName != "" {
			httpReq.Header.Set("X-Title", p.appName)
		}
		return httpReq, nil
	})
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	var response chatResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("openai: decode response (%s): %w", llm.SummarizeSnippet(string(body)), err)
	}
	if response.Error != nil {
		return nil, fmt.Errorf("openai: api error: %s", response.Error.Message)
	}

	text, finishReason, refusal := extractContent(response)
	if text == "" {
		if refusal != "" {
			return nil, fmt.Errorf("openai: model refused: %s", refusal)
		}
		return nil, fmt.Errorf("openai: empty content (finish_reason=%q)", finishReason)
	}

	if response.Model != "" {
		model = response.Model
	}
	return &llm.CompletionResponse{
		Text:         text,
		FinishReason: finishReason,
		TokensUsed:   response.Usage.TotalTokens,
		PromptTokens: response.Usage.PromptTokens,
		OutputTokens: response.Usage.CompletionTokens,
		ModelName:    model,
		ProviderName: p.GetName(),
	}, nil
}

func extractContent(response chatResponse) (text, finishReason, refusal string) {
	for _, choice := range response.Choices {
		if finishReason == "" {
			finishReason = choice.FinishReason
		}
		if refusal == "" {
			refusal = firstNonEmpty(choice.Message.Refusal, choice.Delta.Refusal)
		}
		if content := firstNonEmpty(choice.Message.Content, choice.Delta.Content, choice.Text); content != "" {
			return content, finishReason, refusal
		}
	}
	return "", finishReason, refusal
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
