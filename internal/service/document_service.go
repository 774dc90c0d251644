// Package service 包含了应用的业务逻辑层。
package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"doc-chat-go/internal/config"
	"doc-chat-go/internal/model"
	"doc-chat-go/internal/repository"
	"doc-chat-go/pkg/kafka"
	"doc-chat-go/pkg/log"
	"doc-chat-go/pkg/storage"
	"doc-chat-go/pkg/tasks"
	"doc-chat-go/pkg/tika"

	"github.com/go-redis/redis/v8"
)

// 提取文本缓存的键前缀与有效期。
const (
	docTextKeyPrefix = "doctext:"
	docTextTTL       = 24 * time.Hour
)

// DocumentService 接口定义了文档管理相关的业务操作。
type DocumentService interface {
	Upload(ctx context.Context, userID uint, fileName, contentType string, size int64, reader io.Reader) (*model.Document, error)
	ListForUser(userID uint) ([]model.Document, error)
	// FindOwned 在给定 id 序列中筛选出属于该用户的文档，保持请求顺序。
	FindOwned(userID uint, ids []uint) ([]model.Document, error)
	// ExtractedText 返回文档的提取文本；任何失败都返回空串而不是错误。
	ExtractedText(ctx context.Context, doc *model.Document) string
}

type documentService struct {
	docRepo    repository.DocumentRepository
	rdb        *redis.Client
	minioCfg   config.MinIOConfig
	tikaClient *tika.Client
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(docRepo repository.DocumentRepository, rdb *redis.Client, minioCfg config.MinIOConfig, tikaClient *tika.Client) DocumentService {
	return &documentService{
		docRepo:    docRepo,
		rdb:        rdb,
		minioCfg:   minioCfg,
		tikaClient: tikaClient,
	}
}

// Upload 将文件写入对象存储、落库元数据，并投递一个提取任务做缓存预热。
func (s *documentService) Upload(ctx context.Context, userID uint, fileName, contentType string, size int64, reader io.Reader) (*model.Document, error) {
	objectKey := fmt.Sprintf("documents/%d/%s", userID, fileName)

	if err := storage.PutObject(ctx, s.minioCfg.BucketName, objectKey, reader, size, contentType); err != nil {
		return nil, fmt.Errorf("failed to store document object: %w", err)
	}

	doc := &model.Document{
		UserID:      userID,
		FileName:    fileName,
		ObjectKey:   objectKey,
		ContentType: contentType,
		Size:        size,
	}
	if err := s.docRepo.Create(doc); err != nil {
		return nil, fmt.Errorf("failed to create document record: %w", err)
	}

	// 提取预热是尽力而为的：投递失败只记日志，首次聊天会退回到同步提取
	task := tasks.DocumentProcessingTask{
		DocumentID: doc.ID,
		ObjectKey:  doc.ObjectKey,
		FileName:   doc.FileName,
		UserID:     doc.UserID,
	}
	if err := kafka.ProduceDocumentTask(task); err != nil {
		log.Warnf("投递文档提取任务失败: documentID=%d, err=%v", doc.ID, err)
	}

	return doc, nil
}

// ListForUser 获取用户的文档列表。
func (s *documentService) ListForUser(userID uint) ([]model.Document, error) {
	return s.docRepo.FindByUser(userID)
}

// FindOwned 在给定 id 序列中筛选出属于该用户的文档，保持请求顺序。
func (s *documentService) FindOwned(userID uint, ids []uint) ([]model.Document, error) {
	docs, err := s.docRepo.FindByIDsAndUser(ids, userID)
	if err != nil {
		return nil, err
	}

	byID := make(map[uint]model.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	ordered := make([]model.Document, 0, len(docs))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			ordered = append(ordered, d)
		}
	}
	return ordered, nil
}

// ExtractedText 返回文档的提取文本。
// 先查 Redis 缓存；未命中时从对象存储读出文件交给 Tika，结果回填缓存。
// 提取链路上的任何失败都折叠成空串，由调用方按"提取失败"处理。
func (s *documentService) ExtractedText(ctx context.Context, doc *model.Document) string {
	cacheKey := fmt.Sprintf("%s%d", docTextKeyPrefix, doc.ID)

	if s.rdb != nil {
		if cached, err := s.rdb.Get(ctx, cacheKey).Result(); err == nil {
			return cached
		}
	}

	data := storage.ReadObject(ctx, s.minioCfg.BucketName, doc.ObjectKey)
	if len(data) == 0 {
		return ""
	}

	text, err := s.tikaClient.ExtractText(bytes.NewReader(data), doc.FileName)
	if err != nil {
		log.Warnf("提取文档文本失败: documentID=%d, err=%v", doc.ID, err)
		return ""
	}

	if s.rdb != nil && text != "" {
		if err := s.rdb.Set(ctx, cacheKey, text, docTextTTL).Err(); err != nil {
			log.Warnf("回填提取文本缓存失败: documentID=%d, err=%v", doc.ID, err)
		}
	}

	return text
}
