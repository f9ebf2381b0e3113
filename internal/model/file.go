package model

import (
	"strings"
	"time"
)

// File 对应 files 表，记录用户上传到 MinIO 的文件。
type File struct {
	ID        string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	UserID    string    `gorm:"type:varchar(64);not null;index" json:"userId"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Type      string    `gorm:"type:varchar(128);not null" json:"type"` // MIME 类型
	ObjectKey string    `gorm:"type:varchar(512);not null" json:"objectKey"`
	Size      int64     `gorm:"not null;default:0" json:"size"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (File) TableName() string {
	return "files"
}

// IsImage 判断文件是否为图片。
func (f *File) IsImage() bool {
	return strings.HasPrefix(f.Type, "image/")
}
