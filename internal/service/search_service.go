// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"time"

	"doc-chat-go/pkg/es"
)

// MessageSearchHit 是一条消息搜索命中结果。
type MessageSearchHit struct {
	MessageID      uint      `json:"messageId"`
	ConversationID uint      `json:"conversationId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// SearchService 定义了消息全文检索的接口。
type SearchService interface {
	SearchMessages(ctx context.Context, userID uint, query string, limit int) ([]MessageSearchHit, error)
}

type searchService struct {
	indexName string
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(indexName string) SearchService {
	return &searchService{indexName: indexName}
}

// SearchMessages 在当前用户的消息中做全文检索。
func (s *searchService) SearchMessages(ctx context.Context, userID uint, query string, limit int) ([]MessageSearchHit, error) {
	if limit <= 0 {
		limit = 20
	}

	docs, err := es.SearchMessages(ctx, s.indexName, userID, query, limit)
	if err != nil {
		return nil, err
	}

	hits := make([]MessageSearchHit, 0, len(docs))
	for _, d := range docs {
		hits = append(hits, MessageSearchHit{
			MessageID:      d.MessageID,
			ConversationID: d.ConversationID,
			Role:           d.Role,
			Content:        d.Content,
			CreatedAt:      d.CreatedAt,
		})
	}
	return hits, nil
}
