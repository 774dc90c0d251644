// Package handler 包含处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"doc-chat-go/internal/service"
	"doc-chat-go/internal/session"
	"doc-chat-go/pkg/log"
	"doc-chat-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责接入 WebSocket 聊天连接并移交给会话状态机。
type ChatHandler struct {
	conversationService service.ConversationService
	documentService     service.DocumentService
	chatService         service.ChatService
	userService         service.UserService
	jwtManager          *token.JWTManager
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(
	conversationService service.ConversationService,
	documentService service.DocumentService,
	chatService service.ChatService,
	userService service.UserService,
	jwtManager *token.JWTManager,
) *ChatHandler {
	return &ChatHandler{
		conversationService: conversationService,
		documentService:     documentService,
		chatService:         chatService,
		userService:         userService,
		jwtManager:          jwtManager,
	}
}

// Handle 处理一个传入的 WebSocket 连接。
// token 直接携带在路径上，认证失败则拒绝升级。
func (h *ChatHandler) Handle(c *gin.Context) {
	claims, err := h.jwtManager.VerifyToken(c.Param("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	user, err := h.userService.GetProfile(claims.Username)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "用户不存在", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立，用户: %s", user.Username)

	sess := session.New(conn, user, session.Deps{
		Conversations: h.conversationService,
		Documents:     h.documentService,
		Chat:          h.chatService,
	})
	sess.Run()
}
