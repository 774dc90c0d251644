// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"

	"doc-chat-go/internal/errs"
	"doc-chat-go/internal/model"
	"doc-chat-go/internal/repository"
	"doc-chat-go/pkg/es"
	"doc-chat-go/pkg/log"

	"gorm.io/gorm"
)

// ConversationService 定义了会话目录与消息日志的业务接口。
type ConversationService interface {
	// ResolveOrCreate 将 (用户, 文档 id 序列) 解析到唯一的会话，不存在则创建。
	// 返回的 bool 标记会话是否为本次新建，调用方据此决定是否触发问候。
	ResolveOrCreate(ctx context.Context, userID uint, documentIDs []uint) (*model.Conversation, bool, error)
	// Get 按 id 加载会话；不存在或不属于该用户时返回 errs.ErrNotFound。
	Get(ctx context.Context, conversationID, userID uint) (*model.Conversation, error)
	// History 返回会话的完整有序消息历史。
	History(ctx context.Context, conversationID uint) ([]model.Message, error)
	// AppendMessage 追加一条消息并（尽力而为地）同步到搜索索引。
	AppendMessage(ctx context.Context, conv *model.Conversation, role, content string) (*model.Message, error)
	// ListForUser 返回用户的全部会话。
	ListForUser(ctx context.Context, userID uint) ([]model.Conversation, error)
}

type conversationService struct {
	convRepo repository.ConversationRepository
	msgRepo  repository.MessageRepository
	esIndex  string
}

// NewConversationService 创建一个新的 ConversationService。
func NewConversationService(convRepo repository.ConversationRepository, msgRepo repository.MessageRepository, esIndex string) ConversationService {
	return &conversationService{
		convRepo: convRepo,
		msgRepo:  msgRepo,
		esIndex:  esIndex,
	}
}

// ResolveOrCreate 查找或创建 (用户, 文档 id 序列) 对应的会话。
// 查找按序列编码做精确匹配，顺序敏感。
func (s *conversationService) ResolveOrCreate(ctx context.Context, userID uint, documentIDs []uint) (*model.Conversation, bool, error) {
	encoded := model.EncodeDocumentIDs(documentIDs)

	conv, err := s.convRepo.FindByUserAndDocumentIDs(userID, encoded)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("failed to look up conversation: %w", err)
	}

	conv = &model.Conversation{
		UserID:      userID,
		DocumentIDs: encoded,
	}
	if err := s.convRepo.Create(conv); err != nil {
		// 写失败时不伪造会话
		return nil, false, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, true, nil
}

// Get 按 id 加载会话，并确认归属。
func (s *conversationService) Get(ctx context.Context, conversationID, userID uint) (*model.Conversation, error) {
	conv, err := s.convRepo.FindByID(conversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	if conv.UserID != userID {
		return nil, errs.ErrNotFound
	}
	return conv, nil
}

// History 返回会话的完整有序消息历史。
func (s *conversationService) History(ctx context.Context, conversationID uint) ([]model.Message, error) {
	return s.msgRepo.List(conversationID)
}

// AppendMessage 追加一条消息。搜索索引同步是尽力而为的：
// 索引失败只记日志，不影响消息写入的结果。
func (s *conversationService) AppendMessage(ctx context.Context, conv *model.Conversation, role, content string) (*model.Message, error) {
	msg, err := s.msgRepo.Append(conv.ID, role, content)
	if err != nil {
		return nil, err
	}

	if es.ESClient != nil && s.esIndex != "" {
		go func(m model.Message, userID uint) {
			doc := es.MessageDoc{
				MessageID:      m.ID,
				ConversationID: m.ConversationID,
				UserID:         userID,
				Role:           m.Role,
				Content:        m.Content,
				CreatedAt:      m.CreatedAt,
			}
			if err := es.IndexMessage(context.Background(), s.esIndex, doc); err != nil {
				log.Errorf("索引消息失败: messageID=%d, err=%v", m.ID, err)
			}
		}(*msg, conv.UserID)
	}

	return msg, nil
}

// ListForUser 返回用户的全部会话。
func (s *conversationService) ListForUser(ctx context.Context, userID uint) ([]model.Conversation, error) {
	return s.convRepo.FindByUser(userID)
}
