// Package pipeline 实现文档上传后的后台处理任务。
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"doc-chat-go/internal/repository"
	"doc-chat-go/internal/service"
	"doc-chat-go/pkg/log"
	"doc-chat-go/pkg/tasks"

	"gorm.io/gorm"
)

// Processor 消费文档提取任务，提前把文档文本灌入缓存。
// 聊天补全首次引用该文档时即可命中缓存，省掉一次在线抽取。
type Processor struct {
	docRepo    repository.DocumentRepository
	docService service.DocumentService
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(docRepo repository.DocumentRepository, docService service.DocumentService) *Processor {
	return &Processor{docRepo: docRepo, docService: docService}
}

// Process 处理一个文档提取任务。
// 返回错误时消费方会按失败计数重试，因此只有可重试的失败才返回错误。
func (p *Processor) Process(ctx context.Context, task tasks.DocumentProcessingTask) error {
	doc, err := p.docRepo.FindByID(task.DocumentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 文档已被删除，任务作废，不再重试
			log.Warnf("提取任务对应的文档已不存在: documentID=%d", task.DocumentID)
			return nil
		}
		return fmt.Errorf("加载文档元数据失败: %w", err)
	}

	text := p.docService.ExtractedText(ctx, doc)
	if text == "" {
		// 抽取失败或对象不可读，交给重试机制
		return fmt.Errorf("文档文本抽取为空: documentID=%d, objectKey=%s", doc.ID, doc.ObjectKey)
	}

	log.Infof("文档文本预热完成: documentID=%d, 字符数=%d", doc.ID, len(text))
	return nil
}
