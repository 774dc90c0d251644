// Package model 包含了应用的数据模型定义。
package model

import (
	"encoding/json"
	"time"
)

// 消息角色枚举。只有 user 和 assistant 会被持久化；
// developer 角色仅在构造补全请求时合成，从不落库。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleDeveloper = "developer"
	RoleSystem    = "system"
)

// IsPersistableRole 判断角色是否允许写入消息日志。
func IsPersistableRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}

// Conversation 代表用户围绕一组固定文档的持久对话。
// DocumentIDs 在创建时写入一次，此后不可变；
// 它保存的是请求时的有序 id 序列的 JSON 编码（顺序敏感，参见目录查找逻辑）。
type Conversation struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"index;not null" json:"userId"`
	DocumentIDs string    `gorm:"type:text;not null" json:"documentIds"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// DocumentIDList 解码出会话绑定的文档 id 序列。
func (c *Conversation) DocumentIDList() []uint {
	return DecodeDocumentIDs(c.DocumentIDs)
}

// EncodeDocumentIDs 将文档 id 序列编码为存储形式。
// 编码是规范化的（紧凑 JSON 数组），因此相同序列的编码逐字节相等，
// 目录查找可以直接做字符串等值比较。
func EncodeDocumentIDs(ids []uint) string {
	if ids == nil {
		ids = []uint{}
	}
	b, _ := json.Marshal(ids)
	return string(b)
}

// DecodeDocumentIDs 解析存储形式的文档 id 序列。
func DecodeDocumentIDs(encoded string) []uint {
	var ids []uint
	if err := json.Unmarshal([]byte(encoded), &ids); err != nil {
		return []uint{}
	}
	return ids
}

// Message 代表会话中的一条消息。持久化后不可变，只追加、不更新、不删除。
// 会话内的全序由 (created_at, seq) 定义；seq 在持久化时单调分配，
// 避免依赖时钟精度。
type Message struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConversationID uint      `gorm:"index;not null" json:"conversationId"`
	Role           string    `gorm:"type:varchar(16);not null" json:"role"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	Seq            int       `gorm:"not null" json:"seq"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Message) TableName() string {
	return "messages"
}
