// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"doc-chat-go/internal/model"

	"gorm.io/gorm"
)

// ConversationRepository 接口定义了会话记录的持久化操作。
type ConversationRepository interface {
	Create(conv *model.Conversation) error
	FindByID(id uint) (*model.Conversation, error)
	FindByUser(userID uint) ([]model.Conversation, error)
	// FindByUserAndDocumentIDs 按 (用户, 文档 id 序列编码) 精确查找会话。
	// 编码是顺序敏感的：同一组 id 以不同顺序请求会命中不同的会话。
	FindByUserAndDocumentIDs(userID uint, encodedDocumentIDs string) (*model.Conversation, error)
}

type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

// Create 在数据库中创建一个新的会话记录。
func (r *conversationRepository) Create(conv *model.Conversation) error {
	return r.db.Create(conv).Error
}

// FindByID 根据 ID 查找一个会话。
func (r *conversationRepository) FindByID(id uint) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.First(&conv, id).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// FindByUser 查找某个用户的全部会话。
func (r *conversationRepository) FindByUser(userID uint) ([]model.Conversation, error) {
	var convs []model.Conversation
	err := r.db.Where("user_id = ?", userID).Order("created_at desc").Find(&convs).Error
	return convs, err
}

// FindByUserAndDocumentIDs 按 (用户, 文档 id 序列编码) 精确查找会话。
func (r *conversationRepository) FindByUserAndDocumentIDs(userID uint, encodedDocumentIDs string) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.Where("user_id = ? AND document_ids = ?", userID, encodedDocumentIDs).First(&conv).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}
