package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sentinel-chat-go/internal/model"
	"sentinel-chat-go/internal/repository"
	"sentinel-chat-go/pkg/log"
	"sentinel-chat-go/pkg/tasks"
	"strconv"
	"strings"
	"unicode/utf8"
)

// TextExtractor 从文件内容中抽取纯文本，由 tika.Client 实现。
type TextExtractor interface {
	ExtractText(ctx context.Context, r io.Reader, fileName, mimeType string) (string, error)
}

// DocumentIndex 是入库时使用的向量库操作。
type DocumentIndex interface {
	AddDocument(ctx context.Context, text string, metadata map[string]string, namespace string) error
	DeleteFile(ctx context.Context, namespace, fileID string) error
}

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 100
)

// IngestProcessor 把用户上传的文本类文件切块后写入向量库，供对话时按文件检索。
type IngestProcessor struct {
	objects   ObjectReader
	extractor TextExtractor
	chunks    repository.DocumentChunkRepository
	index     DocumentIndex
}

// NewIngestProcessor 创建一个新的 IngestProcessor 实例。
func NewIngestProcessor(objects ObjectReader, extractor TextExtractor, chunks repository.DocumentChunkRepository, index DocumentIndex) *IngestProcessor {
	return &IngestProcessor{objects: objects, extractor: extractor, chunks: chunks, index: index}
}

// Process 处理一个入库任务。重复处理同一文件时先清理旧分块，结果幂等。
func (p *IngestProcessor) Process(ctx context.Context, task tasks.IngestTask) error {
	log.Infof("[IngestProcessor] 开始处理文件, FileID: %s, UserID: %s", task.FileID, task.UserID)
	if strings.HasPrefix(task.MimeType, "image/") {
		log.Infof("[IngestProcessor] 图片文件无需入库, FileID: %s", task.FileID)
		return nil
	}

	// 1. 从 MinIO 下载文件
	data, err := p.objects.ReadAll(ctx, task.ObjectKey)
	if err != nil {
		return fmt.Errorf("从 MinIO 下载文件失败: %w", err)
	}
	if len(data) == 0 {
		return errors.New("文件内容为空")
	}

	// 2. 使用 Tika 提取文本
	text, err := p.extractor.ExtractText(ctx, bytes.NewReader(data), task.FileName, task.MimeType)
	if err != nil {
		return fmt.Errorf("使用 Tika 提取文本失败: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("提取的文本内容为空")
	}
	log.Infof("[IngestProcessor] 文本提取成功, 内容长度: %d 字符", utf8.RuneCountInString(text))

	// 3. 文本切块
	chunks := SplitText(text, defaultChunkSize, defaultChunkOverlap)

	// 4. 分块落库，处理前先清理旧记录
	if err := p.chunks.DeleteByFileID(task.FileID); err != nil {
		log.Warnf("[IngestProcessor] 清理 document_chunks 旧记录失败 (file_id=%s): %v", task.FileID, err)
	}
	rows := make([]*model.DocumentChunk, 0, len(chunks))
	for i, c := range chunks {
		rows = append(rows, &model.DocumentChunk{FileID: task.FileID, ChunkID: i, TextContent: c, UserID: task.UserID})
	}
	if err := p.chunks.BatchCreate(rows); err != nil {
		return fmt.Errorf("批量保存文本分块失败: %w", err)
	}

	// 5. 向量化并索引
	if err := p.index.DeleteFile(ctx, task.UserID, task.FileID); err != nil {
		log.Warnf("[IngestProcessor] 清理旧向量失败 (file_id=%s): %v", task.FileID, err)
	}
	for _, row := range rows {
		meta := map[string]string{
			"file_id":  task.FileID,
			"chunk_id": strconv.Itoa(row.ChunkID),
			"source":   "document",
		}
		if err := p.index.AddDocument(ctx, row.TextContent, meta, task.UserID); err != nil {
			return fmt.Errorf("索引块 %d 失败: %w", row.ChunkID, err)
		}
	}

	log.Infof("[IngestProcessor] 文件处理成功完成, FileID: %s, 分块数: %d", task.FileID, len(rows))
	return nil
}

// SplitText 将长文本按指定大小和重叠进行切分，按 rune 计数。
func SplitText(text string, chunkSize, chunkOverlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 || chunkSize <= 0 {
		return nil
	}
	step := chunkSize - chunkOverlap
	if step <= 0 {
		step = chunkSize
	}

	var chunks []string
	for i := 0; i < len(runes); i += step {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
