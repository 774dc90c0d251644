package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"doc-chat-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) config.LLMConfig {
	return config.LLMConfig{
		APIKey:  "test-key",
		BaseURL: baseURL,
		Model:   "test-model",
	}
}

func TestChatCompletionSuccess(t *testing.T) {
	var gotReq map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"hello there"}}]}`))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	answer, err := client.ChatCompletion(context.Background(), []Message{
		{Role: "system", Content: "rules"},
		{Role: "user", Content: "hi"},
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, "hello there", answer)

	// 固定请求一个非流式 choice，生成参数使用默认值
	assert.Equal(t, "test-model", gotReq["model"])
	assert.Equal(t, float64(1), gotReq["n"])
	assert.Equal(t, false, gotReq["stream"])
	assert.Equal(t, 0.7, gotReq["temperature"])
	assert.Equal(t, float64(1024), gotReq["max_tokens"])
}

func TestChatCompletionGenerationOverrides(t *testing.T) {
	var gotReq map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Generation.Temperature = 0.2
	cfg.Generation.MaxTokens = 256

	client := NewClient(cfg)
	_, err := client.ChatCompletion(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.2, gotReq["temperature"])
	assert.Equal(t, float64(256), gotReq["max_tokens"])
}

func TestChatCompletionParsesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limit exceeded"}}`))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	_, err := client.ChatCompletion(context.Background(), nil, nil)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "rate limit exceeded", apiErr.Message)
}

// 非 200 且负载不可解析时退化为普通错误，不伪造 APIError。
func TestChatCompletionNonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream exploded"))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	_, err := client.ChatCompletion(context.Background(), nil, nil)

	require.Error(t, err)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}

func TestChatCompletionRequiresAPIKey(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.APIKey = ""

	client := NewClient(cfg)
	_, err := client.ChatCompletion(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestChatCompletionNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	_, err := client.ChatCompletion(context.Background(), nil, nil)
	assert.Error(t, err)
}
