// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"doc-chat-go/internal/model"

	"gorm.io/gorm"
)

// DocumentRepository 接口定义了文档元数据的持久化操作。
type DocumentRepository interface {
	Create(doc *model.Document) error
	FindByID(id uint) (*model.Document, error)
	FindByUser(userID uint) ([]model.Document, error)
	FindByIDsAndUser(ids []uint, userID uint) ([]model.Document, error)
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// Create 在数据库中创建一个新的文档记录。
func (r *documentRepository) Create(doc *model.Document) error {
	return r.db.Create(doc).Error
}

// FindByID 根据 ID 查找一个文档。
func (r *documentRepository) FindByID(id uint) (*model.Document, error) {
	var doc model.Document
	err := r.db.First(&doc, id).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindByUser 查找某个用户的全部文档。
func (r *documentRepository) FindByUser(userID uint) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.Where("user_id = ?", userID).Order("created_at desc").Find(&docs).Error
	return docs, err
}

// FindByIDsAndUser 在给定的 id 集合中查找属于该用户的文档。
// 不属于该用户的 id 会被静默过滤掉；返回顺序不保证。
func (r *documentRepository) FindByIDsAndUser(ids []uint, userID uint) ([]model.Document, error) {
	if len(ids) == 0 {
		return []model.Document{}, nil
	}
	var docs []model.Document
	err := r.db.Where("id IN ? AND user_id = ?", ids, userID).Find(&docs).Error
	return docs, err
}
