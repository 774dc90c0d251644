// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"doc-chat-go/internal/errs"
	"doc-chat-go/internal/model"

	"gorm.io/gorm"
)

// MessageRepository 接口定义了消息日志的持久化操作。
// 消息日志是 append-only 的：没有更新和删除路径。
type MessageRepository interface {
	// Append 校验后追加一条消息。内容为空或角色不合法时返回
	// ValidationError 且不产生任何写入。
	Append(conversationID uint, role, content string) (*model.Message, error)
	// List 返回会话内按写入顺序排列的全部消息。
	// 每次调用都重新查询，保证读到最新的持久化状态。
	List(conversationID uint) ([]model.Message, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建一个新的 MessageRepository 实例。
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

// Append 校验后在事务内分配单调递增的 seq 并写入消息。
func (r *messageRepository) Append(conversationID uint, role, content string) (*model.Message, error) {
	if content == "" {
		return nil, errs.Validation("message content must not be empty")
	}
	if !model.IsPersistableRole(role) {
		return nil, errs.Validation("unrecognized message role: " + role)
	}

	msg := &model.Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
	}

	// seq 在事务内基于当前最大值分配，保证同会话内并发追加仍是全序
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var maxSeq int
		if err := tx.Model(&model.Message{}).
			Where("conversation_id = ?", conversationID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return err
		}
		msg.Seq = maxSeq + 1
		return tx.Create(msg).Error
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// List 返回按 (created_at, seq) 升序排列的消息。
func (r *messageRepository) List(conversationID uint) ([]model.Message, error) {
	var messages []model.Message
	err := r.db.Where("conversation_id = ?", conversationID).
		Order("created_at asc, seq asc").
		Find(&messages).Error
	return messages, err
}
