package handler

import (
	"net/http"
	"sentinel-chat-go/internal/middleware"
	"sentinel-chat-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// NewRouter 创建路由引擎并注册所有接口。
func NewRouter(jwtManager *token.JWTManager, chat *ChatHandler, files *FileHandler) *gin.Engine {
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestID(), middleware.RequestLogger(), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(jwtManager))
	{
		jobs := apiV1.Group("/chat/jobs")
		{
			jobs.POST("", chat.Submit)
			jobs.GET("/:jobId", chat.Poll)
			jobs.GET("/:jobId/ws", chat.Stream)
		}
		if files != nil {
			apiV1.POST("/files/:fileId/ingest", files.Ingest)
		}
	}
	return r
}
