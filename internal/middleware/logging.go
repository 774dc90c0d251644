package middleware

import (
	"time"

	"doc-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// RequestLogger 记录每个 HTTP 请求的方法、路径、状态码与耗时。
// WebSocket 升级请求同样经过此处：日志在连接关闭后才落一条，
// latency 覆盖整个会话存续时间。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		log.Infow("HTTP 请求",
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
		)
	}
}
