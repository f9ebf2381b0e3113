package handler

import (
	"context"
	"errors"
	"net/http"
	"sentinel-chat-go/internal/middleware"
	"sentinel-chat-go/internal/repository"
	"sentinel-chat-go/pkg/log"
	"sentinel-chat-go/pkg/tasks"

	"github.com/gin-gonic/gin"
)

// IngestProducer 由 kafka.Producer 实现。
type IngestProducer interface {
	ProduceIngestTask(ctx context.Context, task tasks.IngestTask) error
}

// FileHandler 负责触发文件入库。文件本身的上传由外部服务完成。
type FileHandler struct {
	files    repository.FileRepository
	producer IngestProducer
}

func NewFileHandler(files repository.FileRepository, producer IngestProducer) *FileHandler {
	return &FileHandler{files: files, producer: producer}
}

// Ingest 处理 POST /api/v1/files/:fileId/ingest，把入库任务发送到 Kafka。
func (h *FileHandler) Ingest(c *gin.Context) {
	userID := middleware.UserID(c)
	file, err := h.files.FindForUser(c.Request.Context(), c.Param("fileId"), userID)
	if errors.Is(err, repository.ErrNotFound) {
		respond(c, http.StatusNotFound, "文件不存在", nil)
		return
	}
	if err != nil {
		log.Errorf("[FileHandler] 查询文件失败: %v", err)
		respond(c, http.StatusInternalServerError, "服务器内部错误", nil)
		return
	}
	if file.IsImage() {
		respond(c, http.StatusBadRequest, "图片文件无需入库", nil)
		return
	}

	task := tasks.IngestTask{
		FileID:    file.ID,
		UserID:    userID,
		ObjectKey: file.ObjectKey,
		FileName:  file.Name,
		MimeType:  file.Type,
	}
	if err := h.producer.ProduceIngestTask(c.Request.Context(), task); err != nil {
		log.Errorf("[FileHandler] 发送入库任务失败, fileID: %s, err: %v", file.ID, err)
		respond(c, http.StatusServiceUnavailable, "入库任务提交失败，请稍后重试", nil)
		return
	}
	log.Infof("[FileHandler] 入库任务已提交, fileID: %s", file.ID)
	respond(c, http.StatusAccepted, "success", gin.H{"fileId": file.ID})
}
