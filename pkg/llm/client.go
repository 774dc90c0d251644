// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"doc-chat-go/internal/config"
	"doc-chat-go/internal/errs"
)

// 生成参数默认值。会话补全使用固定参数，除非配置覆盖。
const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 1024
)

// 外部补全调用的超时：整体两分钟，连接阶段更短。
const (
	callTimeout    = 120 * time.Second
	connectTimeout = 10 * time.Second
)

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams 控制生成行为
type GenerationParams struct {
	Temperature *float64
	MaxTokens   *int
}

// APIError 表示服务端返回的结构化错误负载。
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat api error [%d]: %s", e.StatusCode, e.Message)
}

// Client defines the interface for an LLM client.
type Client interface {
	// ChatCompletion 以 role-based 消息调用聊天接口，返回唯一一个 choice 的文本。
	ChatCompletion(ctx context.Context, messages []Message, gen *GenerationParams) (string, error)
}

type chatClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewClient creates a new LLM client based on the config.
func NewClient(cfg config.LLMConfig) Client {
	return &chatClient{
		cfg:    cfg,
		client: newHTTPClient(),
	}
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: callTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
		},
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	N           int       `json:"n"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ChatCompletion calls the chat completions API and returns the single answer text.
func (c *chatClient) ChatCompletion(ctx context.Context, messages []Message, gen *GenerationParams) (string, error) {
	if c.cfg.APIKey == "" {
		return "", errors.New("llm api key is not configured")
	}

	reqBody := chatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		N:        1,
		Stream:   false,
	}
	// 从配置或传参注入生成参数（传参优先生效，缺省时使用固定默认值）
	if gen != nil {
		reqBody.Temperature = gen.Temperature
		reqBody.MaxTokens = gen.MaxTokens
	}
	if reqBody.Temperature == nil {
		t := defaultTemperature
		if c.cfg.Generation.Temperature != 0 {
			t = c.cfg.Generation.Temperature
		}
		reqBody.Temperature = &t
	}
	if reqBody.MaxTokens == nil {
		m := defaultMaxTokens
		if c.cfg.Generation.MaxTokens != 0 {
			m = c.cfg.Generation.MaxTokens
		}
		reqBody.MaxTokens = &m
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create chat request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrUpstream, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read chat api response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// 尝试解析结构化错误负载，以便调用方给出更具体的降级文案
		var errResp errorResponse
		if jsonErr := json.Unmarshal(bodyBytes, &errResp); jsonErr == nil && errResp.Error.Message != "" {
			return "", &APIError{StatusCode: resp.StatusCode, Message: errResp.Error.Message}
		}
		return "", fmt.Errorf("chat api returned non-200 status: %s", resp.Status)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(bodyBytes, &chatResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal chat response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", errors.New("chat api returned no choices")
	}

	return chatResp.Choices[0].Message.Content, nil
}
