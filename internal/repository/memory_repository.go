package repository

import (
	"context"
	"sentinel-chat-go/internal/model"

	"gorm.io/gorm"
)

// MemoryRepository 定义了用户记忆的数据操作接口。
type MemoryRepository interface {
	// GetRecent 返回用户最新的 n 条记忆内容，新的在前。
	GetRecent(ctx context.Context, userID string, n int) ([]string, error)
	Append(ctx context.Context, userID string, memType model.MemoryType, content, source string) error
}

type memoryRepository struct {
	db *gorm.DB
}

// NewMemoryRepository 创建一个新的 MemoryRepository 实例。
func NewMemoryRepository(db *gorm.DB) MemoryRepository {
	return &memoryRepository{db: db}
}

func (r *memoryRepository) GetRecent(ctx context.Context, userID string, n int) ([]string, error) {
	var facts []string
	err := r.db.WithContext(ctx).Model(&model.Memory{}).
		Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Limit(n).
		Pluck("content", &facts).Error
	return facts, err
}

func (r *memoryRepository) Append(ctx context.Context, userID string, memType model.MemoryType, content, source string) error {
	return r.db.WithContext(ctx).Create(&model.Memory{
		UserID:  userID,
		Type:    memType,
		Content: content,
		Source:  source,
	}).Error
}
