// Package model 包含了应用的数据模型定义。
package model

import "time"

// 消息角色，与库中存储的值一致。
const (
	RoleUser      = "USER"
	RoleAssistant = "ASSISTANT"
	RoleSystem    = "SYSTEM"
)

// Message 对应 messages 表，只追加不修改。
// Encrypted 为 true 时 Content 是 nonce:tag:ciphertext 格式的密文。
type Message struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ChatID    string    `gorm:"type:varchar(64);not null;index:idx_chat_created,priority:1" json:"chatId"`
	Role      string    `gorm:"type:varchar(16);not null" json:"role"`
	Content   string    `gorm:"type:longtext;not null" json:"-"`
	Encrypted bool      `gorm:"not null;default:false" json:"-"`
	CreatedAt time.Time `gorm:"autoCreateTime;index:idx_chat_created,priority:2" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Message) TableName() string {
	return "messages"
}

// Chat 对应 chats 表，由外部 CRUD 接口维护，这里只读。
type Chat struct {
	ID        string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	UserID    string    `gorm:"type:varchar(64);not null;index" json:"userId"`
	Title     string    `gorm:"type:varchar(255)" json:"title"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Chat) TableName() string {
	return "chats"
}
