package repository

import (
	"context"
	"sentinel-chat-go/internal/model"
	"time"

	"gorm.io/gorm"
)

// AuditRepository 定义了审计日志与会话清理相关的数据操作。
type AuditRepository interface {
	Create(ctx context.Context, userID, action string) error
	// DeleteOlderThan 删除早于 cutoff 的审计日志，重复执行是安全的。
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository 创建一个新的 AuditRepository 实例。
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Create(ctx context.Context, userID, action string) error {
	if len(action) > 512 {
		action = action[:512]
	}
	return r.db.WithContext(ctx).Create(&model.AuditLog{UserID: userID, Action: action}).Error
}

func (r *auditRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&model.AuditLog{})
	return res.RowsAffected, res.Error
}

// SessionRepository 定义了会话记录的清理操作。
type SessionRepository interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository 创建一个新的 SessionRepository 实例。
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&model.Session{})
	return res.RowsAffected, res.Error
}
