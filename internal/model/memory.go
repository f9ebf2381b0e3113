package model

import "time"

// MemoryType 区分记忆的来源类别。
type MemoryType string

const (
	MemoryUserFact   MemoryType = "USER_FACT"
	MemoryPreference MemoryType = "PREFERENCE"
)

// Memory 对应 memories 表，按用户只追加。
type Memory struct {
	ID        uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string     `gorm:"type:varchar(64);not null;index:idx_user_created,priority:1" json:"userId"`
	Type      MemoryType `gorm:"type:varchar(32);not null" json:"type"`
	Content   string     `gorm:"type:text;not null" json:"content"`
	Source    string     `gorm:"type:varchar(255)" json:"source"`
	CreatedAt time.Time  `gorm:"autoCreateTime;index:idx_user_created,priority:2" json:"createdAt"`
}

func (Memory) TableName() string {
	return "memories"
}
