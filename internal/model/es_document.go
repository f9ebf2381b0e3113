package model

import "time"

// VectorDocument 代表存储在 Elasticsearch 中的文档结构。
// Namespace 为用户 ID，所有检索都限定在命名空间内。
type VectorDocument struct {
	DocID        string            `json:"doc_id"`
	Namespace    string            `json:"namespace"`
	TextContent  string            `json:"text_content"`
	Vector       []float32         `json:"vector"`
	ModelVersion string            `json:"model_version"`
	Metadata     map[string]string `json:"metadata"`
	CreatedAt    time.Time         `json:"created_at"`
}

// RAGDocument 是一次相似度检索的结果，不落库。
type RAGDocument struct {
	Text     string            `json:"text"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata"`
}
