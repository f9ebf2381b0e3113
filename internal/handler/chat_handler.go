// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"context"
	"errors"
	"net/http"
	"sentinel-chat-go/internal/middleware"
	"sentinel-chat-go/internal/repository"
	"sentinel-chat-go/internal/service"
	"sentinel-chat-go/pkg/log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// ChatHandler 负责对话任务的提交、轮询与状态推送。
type ChatHandler struct {
	chatService  service.ChatService
	files        repository.FileRepository
	pollInterval time.Duration
	streamLimit  time.Duration
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, files repository.FileRepository, pollInterval time.Duration) *ChatHandler {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &ChatHandler{
		chatService:  chatService,
		files:        files,
		pollInterval: pollInterval,
		streamLimit:  5 * time.Minute,
	}
}

// SubmitJobRequest 定义了提交对话任务的请求体。
type SubmitJobRequest struct {
	ChatID  string `json:"chatId" binding:"required,max=64"`
	Message string `json:"message" binding:"required,min=1,max=4000"`
	FileID  string `json:"fileId" binding:"omitempty,max=64"`
}

func respond(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, gin.H{"code": status, "message": message, "data": data})
}

// Submit 处理 POST /api/v1/chat/jobs。
func (h *ChatHandler) Submit(c *gin.Context) {
	var req SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, "无效的请求参数", nil)
		return
	}
	userID := middleware.UserID(c)

	if req.FileID != "" {
		if _, err := h.files.FindForUser(c.Request.Context(), req.FileID, userID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				respond(c, http.StatusNotFound, "文件不存在", nil)
				return
			}
			log.Errorf("[ChatHandler] 查询文件失败: %v", err)
			respond(c, http.StatusInternalServerError, "服务器内部错误", nil)
			return
		}
	}

	jobID, err := h.chatService.Submit(c.Request.Context(), service.SubmitRequest{
		ChatID:    req.ChatID,
		UserID:    userID,
		Message:   req.Message,
		FileID:    req.FileID,
		RequestID: c.GetString(middleware.ContextRequestID),
	})
	switch {
	case errors.Is(err, service.ErrRateLimited):
		respond(c, http.StatusTooManyRequests, "请求过于频繁，请稍后再试", nil)
	case errors.Is(err, service.ErrQuotaExceeded):
		respond(c, http.StatusTooManyRequests, "今日额度已用完", nil)
	case errors.Is(err, service.ErrChatNotFound):
		respond(c, http.StatusNotFound, "会话不存在", nil)
	case err != nil:
		log.Errorf("[ChatHandler] 提交任务失败: %v", err)
		respond(c, http.StatusInternalServerError, "服务器内部错误", nil)
	default:
		respond(c, http.StatusAccepted, "success", gin.H{"jobId": jobID})
	}
}

// poll 查询任务并校验归属，不属于当前用户的任务按不存在处理。
func (h *ChatHandler) poll(ctx context.Context, jobID, userID string) (*service.PollResult, error) {
	res, err := h.chatService.Poll(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if res.UserID != userID {
		return nil, service.ErrJobNotFound
	}
	return res, nil
}

// Poll 处理 GET /api/v1/chat/jobs/:jobId。
func (h *ChatHandler) Poll(c *gin.Context) {
	res, err := h.poll(c.Request.Context(), c.Param("jobId"), middleware.UserID(c))
	if errors.Is(err, service.ErrJobNotFound) {
		respond(c, http.StatusNotFound, "任务不存在", nil)
		return
	}
	if err != nil {
		log.Errorf("[ChatHandler] 查询任务失败: %v", err)
		respond(c, http.StatusInternalServerError, "服务器内部错误", nil)
		return
	}
	respond(c, http.StatusOK, "success", res)
}

// Stream 处理 GET /api/v1/chat/jobs/:jobId/ws，在状态变化时推送，终态后关闭连接。
// 客户端关闭连接即视为停止等待，任务本身不受影响。
func (h *ChatHandler) Stream(c *gin.Context) {
	jobID := c.Param("jobId")
	userID := middleware.UserID(c)

	first, err := h.poll(c.Request.Context(), jobID, userID)
	if errors.Is(err, service.ErrJobNotFound) {
		respond(c, http.StatusNotFound, "任务不存在", nil)
		return
	}
	if err != nil {
		log.Errorf("[ChatHandler] 查询任务失败: %v", err)
		respond(c, http.StatusInternalServerError, "服务器内部错误", nil)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.streamLimit)
	defer cancel()

	// 读循环只用于感知客户端关闭。
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	last := ""
	res := first
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()
	for {
		if res.State != last {
			if err := conn.WriteJSON(res); err != nil {
				log.Warnf("[ChatHandler] WebSocket 写入失败: %v", err)
				return
			}
			last = res.State
		}
		if res.Terminal() {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		next, err := h.poll(ctx, jobID, userID)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Warnf("[ChatHandler] 轮询任务 %s 失败: %v", jobID, err)
			}
			return
		}
		res = next
	}
}
