package session

import (
	"fmt"

	"doc-chat-go/internal/errs"
	"doc-chat-go/internal/model"
)

// 入站帧类型。
const (
	inboundTypeInit    = "init"
	inboundTypeMessage = "message"
)

// 出站帧类型。type 字段的值直接以线上形式（camelCase）书写，
// 键变换只作用于键，不作用于值。
const (
	frameTypeConversationInitialized = "conversationInitialized"
	frameTypeMessageSaved            = "messageSaved"
	frameTypeAIResponse              = "aiResponse"
	frameTypeError                   = "error"
)

// errInvalidJSON 是 JSON 解析失败时回告客户端的固定文案。
const errInvalidJSON = "Invalid JSON format"

// inboundFrame 是入站帧解码后的带标签联合：
// Type 决定有效字段，其余字段为零值。
type inboundFrame struct {
	Type        string
	DocumentIDs []uint // 仅 init
	Content     string // 仅 message
}

// parseInbound 从已解码的帧中提取 type 判别式并校验对应的形状。
// 任何不匹配都关闭失败为协议错误，不做宽松兜底。
func parseInbound(raw map[string]interface{}) (*inboundFrame, error) {
	t, ok := raw["type"].(string)
	if !ok {
		return nil, errs.Protocol("Missing or invalid frame type")
	}

	switch t {
	case inboundTypeInit:
		rawIDs, ok := raw["document_ids"].([]interface{})
		if !ok {
			return nil, errs.Protocol("Init frame requires a documentIds array")
		}
		ids := make([]uint, 0, len(rawIDs))
		for _, v := range rawIDs {
			n, ok := v.(float64)
			if !ok || n < 0 || n != float64(uint(n)) {
				return nil, errs.Protocol("documentIds must contain non-negative integers")
			}
			ids = append(ids, uint(n))
		}
		return &inboundFrame{Type: t, DocumentIDs: ids}, nil

	case inboundTypeMessage:
		content, ok := raw["content"].(string)
		if !ok {
			return nil, errs.Protocol("Message frame requires a content string")
		}
		return &inboundFrame{Type: t, Content: content}, nil

	default:
		return nil, errs.Protocol(fmt.Sprintf("Unknown frame type: %s", t))
	}
}

// messagePayload 构造单条消息在帧内的负载（snake_case 键，编码时转为 camelCase）。
func messagePayload(m *model.Message) map[string]interface{} {
	return map[string]interface{}{
		"id":        m.ID,
		"content":   m.Content,
		"role":      m.Role,
		"timestamp": model.FormatTimestamp(m.CreatedAt),
	}
}

// snapshotFrame 构造 init 应答：会话 id、绑定的文档 id 序列与完整消息历史。
func snapshotFrame(conv *model.Conversation, history []model.Message) map[string]interface{} {
	msgs := make([]interface{}, 0, len(history))
	for i := range history {
		msgs = append(msgs, messagePayload(&history[i]))
	}

	ids := conv.DocumentIDList()
	rawIDs := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		rawIDs = append(rawIDs, id)
	}

	return map[string]interface{}{
		"type": frameTypeConversationInitialized,
		"conversation": map[string]interface{}{
			"id":                    conv.ID,
			"document_ids":          rawIDs,
			"conversation_messages": msgs,
		},
	}
}

// messageFrame 构造携带单条消息的帧（messageSaved / aiResponse）。
func messageFrame(frameType string, m *model.Message) map[string]interface{} {
	return map[string]interface{}{
		"type":    frameType,
		"message": messagePayload(m),
	}
}

// errorFrame 构造带 type 的错误帧，用于会话已激活后的协议与处理错误。
func errorFrame(msg string) map[string]interface{} {
	return map[string]interface{}{
		"type":  frameTypeError,
		"error": msg,
	}
}

// bareErrorFrame 构造不带 type 的错误帧。
// init 阶段与 JSON 解析失败沿用这种历史形状，与带 type 的变体并存。
func bareErrorFrame(msg string) map[string]interface{} {
	return map[string]interface{}{
		"error": msg,
	}
}
