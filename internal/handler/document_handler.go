package handler

import (
	"net/http"

	"doc-chat-go/internal/model"
	"doc-chat-go/internal/service"
	"doc-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// DocumentHandler 负责处理文档上传与列表请求。
type DocumentHandler struct {
	documentService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(documentService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{documentService: documentService}
}

// Upload 处理 multipart 文档上传。
// 文件落入对象存储并登记元数据，文本抽取由后台任务异步预热。
func (h *DocumentHandler) Upload(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "未认证"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少上传文件"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无法读取上传文件"})
		return
	}
	defer file.Close()

	contentType := fileHeader.Header.Get("Content-Type")
	doc, err := h.documentService.Upload(c.Request.Context(), user.ID, fileHeader.Filename, contentType, fileHeader.Size, file)
	if err != nil {
		log.Errorf("文档上传失败: user=%d, file=%s, err=%v", user.ID, fileHeader.Filename, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "文档上传失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    documentView(doc),
	})
}

// List 返回当前用户的全部文档。
func (h *DocumentHandler) List(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "未认证"})
		return
	}

	docs, err := h.documentService.ListForUser(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询文档列表失败"})
		return
	}

	views := make([]gin.H, 0, len(docs))
	for i := range docs {
		views = append(views, documentView(&docs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": views})
}

func documentView(doc *model.Document) gin.H {
	return gin.H{
		"id":          doc.ID,
		"fileName":    doc.FileName,
		"contentType": doc.ContentType,
		"size":        doc.Size,
		"createdAt":   model.FormatTimestamp(doc.CreatedAt),
	}
}
