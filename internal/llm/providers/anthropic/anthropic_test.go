package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/AdScriptStudio/internal/llm"
)

func TestCompleteText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-test", r.Header.Get("X-Api-Key"))
		assert.Equal(t, defaultAPIVersion, r.Header.Get("Anthropic-Version"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "be terse", body["system"])
		assert.EqualValues(t, defaultMaxTokens, body["max_tokens"])

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"model":       "claude-test",
			"stop_reason": "end_turn",
			"content": []map[string]string{
				{"type": "text", "text": `[["Hi", `},
				{"type": "text", "text": `"Wave"]]`},
			},
			"usage": map[string]int{"input_tokens": 12, "output_tokens": 5},
		})
	}))
	defer server.Close()

	p, err := llm.GetProvider("anthropic", map[string]string{"api_key": "sk-test", "base_url": server.URL + "/"})
	require.NoError(t, err)

	resp, err := p.CompleteText(context.Background(), llm.CompletionRequest{Prompt: "go", SystemPrompt: "be terse"})
	require.NoError(t, err)
	assert.Equal(t, `[["Hi", "Wave"]]`, resp.Text)
	assert.Equal(t, 17, resp.TokensUsed)
	assert.Equal(t, "end_turn", resp.FinishReason)
	assert.Equal(t, defaultModel, resp.ModelName)
}

func TestCompleteTextNoText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"stop_reason":"refusal","content":[]}`))
	}))
	defer server.Close()

	p, err := llm.GetProvider("anthropic", map[string]string{"api_key": "sk-test", "base_url": server.URL})
	require.NoError(t, err)

	_, err = p.CompleteText(context.Background(), llm.CompletionRequest{Prompt: "go"})
	assert.ErrorContains(t, err, "refusal")
}

func TestInitializeRequiresKey(t *testing.T) {
	_, err := llm.GetProvider("anthropic", map[string]string{})
	assert.Error(t, err)
}
