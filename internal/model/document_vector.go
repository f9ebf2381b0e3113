package model

// DocumentChunk 对应于数据库中的 document_chunks 表。
// 文件入库时先落库分块文本，再向量化写入 Elasticsearch。
type DocumentChunk struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	FileID      string `gorm:"type:varchar(64);not null;index"`
	ChunkID     int    `gorm:"not null"`
	TextContent string `gorm:"type:text"`
	UserID      string `gorm:"type:varchar(64);not null"`
}

func (DocumentChunk) TableName() string {
	return "document_chunks"
}
