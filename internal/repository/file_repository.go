package repository

import (
	"context"
	"errors"
	"sentinel-chat-go/internal/model"

	"gorm.io/gorm"
)

// ErrNotFound 表示记录不存在或不属于该用户。
var ErrNotFound = errors.New("record not found")

// FileRepository 定义了文件元数据的只读操作。
type FileRepository interface {
	FindForUser(ctx context.Context, fileID, userID string) (*model.File, error)
}

type fileRepository struct {
	db *gorm.DB
}

// NewFileRepository 创建一个新的 FileRepository 实例。
func NewFileRepository(db *gorm.DB) FileRepository {
	return &fileRepository{db: db}
}

func (r *fileRepository) FindForUser(ctx context.Context, fileID, userID string) (*model.File, error) {
	var f model.File
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", fileID, userID).First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ChatRepository 定义了会话归属校验。
type ChatRepository interface {
	OwnedBy(ctx context.Context, chatID, userID string) (bool, error)
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository 创建一个新的 ChatRepository 实例。
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) OwnedBy(ctx context.Context, chatID, userID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Chat{}).
		Where("id = ? AND user_id = ?", chatID, userID).
		Count(&count).Error
	return count > 0, err
}
