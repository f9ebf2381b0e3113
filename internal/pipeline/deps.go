package pipeline

import (
	"context"
	"sentinel-chat-go/internal/model"
)

// VectorStore 是对话与文档向量检索的抽象，由 es.VectorStore 实现。
type VectorStore interface {
	AddDocument(ctx context.Context, text string, metadata map[string]string, namespace string) error
	SearchSimilar(ctx context.Context, query, namespace string, k int) ([]model.RAGDocument, error)
	SearchFile(ctx context.Context, query, namespace, fileID string, k int) ([]model.RAGDocument, error)
}

// ObjectReader 读取对象存储中的文件内容，由 storage.ObjectStore 实现。
type ObjectReader interface {
	ReadAll(ctx context.Context, key string) ([]byte, error)
}

// Cipher 对落库内容做加解密，由 encryption.Cipher 实现。
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(payload string) (string, error)
}

// Meter 记录 token 用量。
type Meter interface {
	Record(ctx context.Context, userID string, tokens int) error
}
