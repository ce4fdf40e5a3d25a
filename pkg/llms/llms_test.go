package llms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepsense-ai/deepsense/pkg/config"
	"github.com/deepsense-ai/deepsense/pkg/protocol"
)

func openAITestConfig(host string) *config.LLMProviderConfig {
	return &config.LLMProviderConfig{
		Type:        "openai",
		Model:       "gpt-4o",
		APIKey:      "sk-test",
		Host:        host,
		Temperature: 0.1,
		MaxTokens:   1024,
		Timeout:     5,
		MaxRetries:  1,
	}
}

func TestOpenAIGenerateParsesToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o", req["model"])

		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{
					"message": map[string]interface{}{
						"role":    "assistant",
						"content": "checking the weather",
						"tool_calls": []map[string]interface{}{
							{
								"id":   "call_1",
								"type": "function",
								"function": map[string]interface{}{
									"name":      "weather_data",
									"arguments": `{"city":"Warsaw"}`,
								},
							},
						},
					},
					"finish_reason": "tool_calls",
				},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(openAITestConfig(server.URL))
	require.NoError(t, err)

	text, toolCalls, tokens, err := provider.Generate(context.Background(),
		[]*protocol.Message{protocol.UserMessage("weather in Warsaw?")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "checking the weather", text)
	assert.Equal(t, 15, tokens)
	require.Len(t, toolCalls, 1)
	assert.Equal(t, "weather_data", toolCalls[0].Name)
	assert.Equal(t, "Warsaw", toolCalls[0].Args["city"])
}

func TestOpenAIGenerateAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "invalid key", "type": "auth"},
		})
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(openAITestConfig(server.URL))
	require.NoError(t, err)

	_, _, _, err = provider.Generate(context.Background(),
		[]*protocol.Message{protocol.UserMessage("hi")}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid key")
}

func TestAnthropicGenerateParsesToolUse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-test", r.Header.Get("x-api-key"))

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		// System messages must land in the system field, not the messages array.
		assert.Equal(t, "be helpful", req["system"])

		resp := map[string]interface{}{
			"content": []map[string]interface{}{
				{"type": "text", "text": "let me check"},
				{
					"type":  "tool_use",
					"id":    "toolu_1",
					"name":  "crypto_data",
					"input": map[string]interface{}{"coin": "solana"},
				},
			},
			"stop_reason": "tool_use",
			"usage":       map[string]int{"input_tokens": 20, "output_tokens": 10},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	provider, err := NewAnthropicProvider(&config.LLMProviderConfig{
		Type:        "anthropic",
		Model:       "claude-sonnet-4-20250514",
		APIKey:      "sk-test",
		Host:        server.URL,
		Temperature: 0.1,
		MaxTokens:   1024,
		Timeout:     5,
		MaxRetries:  1,
	})
	require.NoError(t, err)

	text, toolCalls, tokens, err := provider.Generate(context.Background(), []*protocol.Message{
		protocol.SystemMessage("be helpful"),
		protocol.UserMessage("price of solana?"),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "let me check", text)
	assert.Equal(t, 30, tokens)
	require.Len(t, toolCalls, 1)
	assert.Equal(t, "crypto_data", toolCalls[0].Name)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"plain", `{"mode":"summarize"}`, `{"mode":"summarize"}`, false},
		{"fenced", "```json\n{\"mode\":\"schema\"}\n```", `{"mode":"schema"}`, false},
		{"prose around", `Sure! Here it is: {"a":1} hope that helps`, `{"a":1}`, false},
		{"array", `[1,2,3]`, `[1,2,3]`, false},
		{"no json", "no structure here", "", true},
		{"invalid", `{"broken":`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProviderRegistryUnknownType(t *testing.T) {
	r := NewProviderRegistry()
	_, err := r.CreateFromConfig("main", &config.LLMProviderConfig{Type: "cohere"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported LLM type")
}
