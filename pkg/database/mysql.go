package database

import (
	"sentinel-chat-go/internal/model"
	"sentinel-chat-go/pkg/log"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var DB *gorm.DB

// InitMySQL 初始化 MySQL 数据库连接并迁移表结构
func InitMySQL(dsn string) {
	var err error
	DB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect database", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		log.Fatal("failed to get sql.DB", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(DB); err != nil {
		log.Fatal("failed to migrate database", err)
	}

	log.Info("MySQL database connected successfully")
}

// Migrate 创建或更新所有业务表。
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Chat{},
		&model.Message{},
		&model.Memory{},
		&model.UsageMetric{},
		&model.AuditLog{},
		&model.Session{},
		&model.File{},
		&model.DocumentChunk{},
	)
}
