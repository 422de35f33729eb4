package google

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/AdScriptStudio/internal/llm"
)

func TestInitializeRequiresKey(t *testing.T) {
	_, err := llm.GetProvider("google", map[string]string{"default_model": "gemini-2.5-pro"})
	assert.Error(t, err)
}

func TestSupportedModels(t *testing.T) {
	p, err := llm.GetProvider("google", map[string]string{"api_key": "k"})
	require.NoError(t, err)
	assert.Contains(t, p.GetSupportedModels(), defaultModel)
	assert.Equal(t, "google", p.GetName())
}

func TestCompleteText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, ":generateContent"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [{
				"content": {"role": "model", "parts": [{"text": "[[\"Hi\", \"Wave\"]]"}]},
				"finishReason": "STOP"
			}],
			"usageMetadata": {"promptTokenCount": 4, "candidatesTokenCount": 6, "totalTokenCount": 10}
		}`))
	}))
	defer server.Close()

	p, err := llm.GetProvider("google", map[string]string{"api_key": "k", "base_url": server.URL})
	require.NoError(t, err)

	resp, err := p.CompleteText(context.Background(), llm.CompletionRequest{Prompt: "go", SystemPrompt: "be brief"})
	require.NoError(t, err)
	assert.Equal(t, `[["Hi", "Wave"]]`, resp.Text)
	assert.Equal(t, "STOP", resp.FinishReason)
	assert.Equal(t, 10, resp.TokensUsed)
}
