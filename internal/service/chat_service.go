// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"doc-chat-go/internal/model"
	"doc-chat-go/pkg/llm"
	"doc-chat-go/pkg/log"
)

// 对话流不能因为供应商抖动而中断：补全失败时回落到固定文案，
// 作为 assistant 内容随消息流正常下发。
const (
	fallbackUnavailable = "AI service temporarily unavailable"
	fallbackErrorPrefix = "AI service error: "
)

// extractionFailedPlaceholder 在文档提取结果为空时替代正文。
const extractionFailedPlaceholder = "[Text extraction failed...]"

// defaultRules 是缺省的系统指令，可被配置覆盖。
const defaultRules = "You are a helpful assistant that answers questions about the user's documents. " +
	"Base your answers on the document content provided below."

// DocumentContext 是补全请求中单个文档的上下文。
type DocumentContext struct {
	Name string
	Text string
}

// ChatService 定义了补全管线的接口。
// Complete 永远返回文本、从不返回错误：降级文案也是合法的回答。
type ChatService interface {
	Complete(ctx context.Context, history []model.Message, docs []DocumentContext) string
}

type chatService struct {
	llmClient llm.Client
	rules     string
}

// NewChatService 创建一个新的 ChatService 实例。
// rules 为空时使用内置的缺省系统指令。
func NewChatService(llmClient llm.Client, rules string) ChatService {
	if rules == "" {
		rules = defaultRules
	}
	return &chatService{
		llmClient: llmClient,
		rules:     rules,
	}
}

// Complete 组装补全请求并调用外部服务。
// 请求由一条合成的 developer 开场消息（系统指令 + 文档上下文）加上
// 映射到供应商角色词表的历史消息构成。
func (s *chatService) Complete(ctx context.Context, history []model.Message, docs []DocumentContext) string {
	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.Message{
		Role:    providerRole(model.RoleDeveloper),
		Content: s.buildLeadTurn(docs),
	})
	for _, m := range history {
		messages = append(messages, llm.Message{
			Role:    providerRole(m.Role),
			Content: m.Content,
		})
	}

	answer, err := s.llmClient.ChatCompletion(ctx, messages, nil)
	if err != nil {
		log.Errorf("补全调用失败: %v", err)
		var apiErr *llm.APIError
		if errors.As(err, &apiErr) {
			return fallbackErrorPrefix + apiErr.Message
		}
		return fallbackUnavailable
	}
	return answer
}

// buildLeadTurn 构造合成的开场消息：系统指令后跟逐文档的上下文块。
// 提取结果为空的文档以占位文案替代正文。
func (s *chatService) buildLeadTurn(docs []DocumentContext) string {
	var b strings.Builder
	b.WriteString(s.rules)
	b.WriteString("\n")

	if len(docs) == 0 {
		b.WriteString("\nThe user has not attached any documents to this conversation.")
		return b.String()
	}

	for _, doc := range docs {
		b.WriteString(fmt.Sprintf("\n--- Document: %s ---\n", doc.Name))
		if doc.Text == "" {
			b.WriteString(extractionFailedPlaceholder)
		} else {
			b.WriteString(doc.Text)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// providerRole 将内部角色映射到外部补全接口的角色词表。
// 映射是有损且非对称的：developer 与 system 合并了来源，
// 这是有意保留的行为，修改前先核对所有调用方。
func providerRole(role string) string {
	switch role {
	case model.RoleDeveloper:
		return "system"
	case model.RoleSystem, model.RoleAssistant:
		return "assistant"
	case model.RoleUser:
		return "user"
	default:
		return "user"
	}
}
