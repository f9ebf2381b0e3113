package model

import "time"

// AuditLog 对应 audit_logs 表，按保留期定期清理。
type AuditLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"type:varchar(64);index" json:"userId"`
	Action    string    `gorm:"type:varchar(512);not null" json:"action"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"createdAt"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}

// Session 对应 sessions 表，过期记录由 worker 的维护循环删除。
type Session struct {
	ID        string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	UserID    string    `gorm:"type:varchar(64);not null;index" json:"userId"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expiresAt"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Session) TableName() string {
	return "sessions"
}
