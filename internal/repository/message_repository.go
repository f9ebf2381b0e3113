// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"sentinel-chat-go/internal/model"

	"gorm.io/gorm"
)

// MessageRepository 定义了消息表的操作接口。消息只追加，不提供更新。
type MessageRepository interface {
	Append(ctx context.Context, msg *model.Message) error
	// Recent 返回会话最近 limit 条消息，按时间正序排列。
	Recent(ctx context.Context, chatID string, limit int) ([]model.Message, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建一个新的 MessageRepository 实例。
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Append(ctx context.Context, msg *model.Message) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *messageRepository) Recent(ctx context.Context, chatID string, limit int) ([]model.Message, error) {
	var msgs []model.Message
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	// 倒序取出后翻转为时间正序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
