package handler

import (
	"errors"
	"net/http"
	"strconv"

	"doc-chat-go/internal/errs"
	"doc-chat-go/internal/model"
	"doc-chat-go/internal/service"

	"github.com/gin-gonic/gin"
)

// ConversationHandler 负责会话的 REST 查询接口。
// 会话的创建发生在 WebSocket init 阶段，这里只读。
type ConversationHandler struct {
	conversationService service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler 实例。
func NewConversationHandler(conversationService service.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversationService: conversationService}
}

// List 返回当前用户的全部会话。
func (h *ConversationHandler) List(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "未认证"})
		return
	}

	convs, err := h.conversationService.ListForUser(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询会话列表失败"})
		return
	}

	views := make([]gin.H, 0, len(convs))
	for i := range convs {
		views = append(views, gin.H{
			"id":          convs[i].ID,
			"documentIds": convs[i].DocumentIDList(),
			"createdAt":   model.FormatTimestamp(convs[i].CreatedAt),
		})
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": views})
}

// History 返回指定会话的全部消息，按既定顺序排列。
func (h *ConversationHandler) History(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "未认证"})
		return
	}

	convID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的会话 ID"})
		return
	}

	// 所有权检查：不属于当前用户的会话等同于不存在
	if _, err := h.conversationService.Get(c.Request.Context(), uint(convID), user.ID); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "会话不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询会话失败"})
		return
	}

	msgs, err := h.conversationService.History(c.Request.Context(), uint(convID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询会话历史失败"})
		return
	}

	views := make([]gin.H, 0, len(msgs))
	for i := range msgs {
		views = append(views, gin.H{
			"id":        msgs[i].ID,
			"role":      msgs[i].Role,
			"content":   msgs[i].Content,
			"timestamp": model.FormatTimestamp(msgs[i].CreatedAt),
		})
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": views})
}
