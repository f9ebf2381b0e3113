// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"sentinel-chat-go/pkg/token"
	"strings"

	"github.com/gin-gonic/gin"
)

// 上下文中存放认证信息的键。
const (
	ContextClaims = "claims"
	ContextUserID = "userID"
)

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// token 从 Authorization 头读取；浏览器的 WebSocket 无法设置请求头，因此也接受 ?token= 查询参数。
func AuthMiddleware(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "请求未包含有效的授权信息", "data": nil})
			return
		}

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效或已过期的 token", "data": nil})
			return
		}

		c.Set(ContextClaims, claims)
		c.Set(ContextUserID, claims.UserID)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	const bearerPrefix = "Bearer "
	if h := c.GetHeader("Authorization"); h != "" {
		if !strings.HasPrefix(h, bearerPrefix) {
			return "", false
		}
		t := strings.TrimSpace(strings.TrimPrefix(h, bearerPrefix))
		return t, t != ""
	}
	if t := c.Query("token"); t != "" {
		return t, true
	}
	return "", false
}

// UserID 返回 AuthMiddleware 写入的用户 ID。
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}
