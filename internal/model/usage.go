package model

import "time"

// UsageMetric 对应 usage_metrics 表，每个完成的任务一条（尽力写入）。
type UsageMetric struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"type:varchar(64);not null;index:idx_usage_user_created,priority:1" json:"userId"`
	Tokens    int       `gorm:"not null;default:0" json:"tokens"`
	CreatedAt time.Time `gorm:"autoCreateTime;index:idx_usage_user_created,priority:2" json:"createdAt"`
}

func (UsageMetric) TableName() string {
	return "usage_metrics"
}
