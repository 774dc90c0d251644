// Package middleware 提供处理 HTTP 请求的 Gin 中间件。
package middleware

import (
	"net/http"
	"strings"

	"doc-chat-go/internal/service"
	"doc-chat-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// ContextUserKey 是认证中间件写入 gin 上下文的用户对象键。
const ContextUserKey = "user"

// AuthMiddleware 创建 JWT 认证中间件。
// 从 Authorization 头提取 Bearer token，验证后加载完整的 User 对象存入上下文。
func AuthMiddleware(jwtManager *token.JWTManager, userService service.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "请求未包含授权头"})
			return
		}

		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效的授权头格式"})
			return
		}

		claims, err := jwtManager.VerifyToken(strings.TrimPrefix(authHeader, bearerPrefix))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效或已过期的 token"})
			return
		}

		// token 合法不代表用户仍然存在，回表确认一次
		user, err := userService.GetProfile(claims.Username)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "用户不存在"})
			return
		}

		c.Set(ContextUserKey, user)
		c.Next()
	}
}
