package repository

import (
	"sentinel-chat-go/internal/model"

	"gorm.io/gorm"
)

// DocumentChunkRepository 定义了对 document_chunks 表的数据操作接口。
type DocumentChunkRepository interface {
	BatchCreate(chunks []*model.DocumentChunk) error
	FindByFileID(fileID string) ([]*model.DocumentChunk, error)
	DeleteByFileID(fileID string) error
}

type documentChunkRepository struct {
	db *gorm.DB
}

// NewDocumentChunkRepository 创建一个新的 DocumentChunkRepository 实例。
func NewDocumentChunkRepository(db *gorm.DB) DocumentChunkRepository {
	return &documentChunkRepository{db: db}
}

// BatchCreate 批量创建分块记录。
func (r *documentChunkRepository) BatchCreate(chunks []*model.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.db.CreateInBatches(chunks, 100).Error // 每100条记录一批
}

// FindByFileID 根据文件 ID 查找所有分块，按分块序号排序。
func (r *documentChunkRepository) FindByFileID(fileID string) ([]*model.DocumentChunk, error) {
	var chunks []*model.DocumentChunk
	err := r.db.Where("file_id = ?", fileID).Order("chunk_id ASC").Find(&chunks).Error
	return chunks, err
}

// DeleteByFileID 根据文件 ID 删除所有分块，用于重复入库时保持幂等。
func (r *documentChunkRepository) DeleteByFileID(fileID string) error {
	return r.db.Where("file_id = ?", fileID).Delete(&model.DocumentChunk{}).Error
}
