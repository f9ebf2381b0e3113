package repository

import (
	"context"
	"sentinel-chat-go/internal/model"
	"time"

	"gorm.io/gorm"
)

// UsageRepository 定义了用量记录的数据操作接口。
type UsageRepository interface {
	Record(ctx context.Context, userID string, tokens int) error
	// SumSince 汇总用户自 since 起消耗的 token 数。
	SumSince(ctx context.Context, userID string, since time.Time) (int64, error)
}

type usageRepository struct {
	db *gorm.DB
}

// NewUsageRepository 创建一个新的 UsageRepository 实例。
func NewUsageRepository(db *gorm.DB) UsageRepository {
	return &usageRepository{db: db}
}

func (r *usageRepository) Record(ctx context.Context, userID string, tokens int) error {
	return r.db.WithContext(ctx).Create(&model.UsageMetric{UserID: userID, Tokens: tokens}).Error
}

func (r *usageRepository) SumSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&model.UsageMetric{}).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Select("COALESCE(SUM(tokens), 0)").
		Scan(&total).Error
	return total, err
}
