package es

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sentinel-chat-go/internal/model"
	"sentinel-chat-go/pkg/embedding"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"
)

// VectorStore 基于 Elasticsearch kNN 的向量库。文本在写入和检索时统一经由 embedding 客户端向量化。
type VectorStore struct {
	client   *elasticsearch.Client
	index    string
	embedder embedding.Client
	refresh  string
}

// NewVectorStore 创建 VectorStore。refresh 为空时写入不强制刷新。
func NewVectorStore(client *elasticsearch.Client, index string, embedder embedding.Client) *VectorStore {
	return &VectorStore{client: client, index: index, embedder: embedder, refresh: "false"}
}

// WithRefresh 返回一个写入时使用指定 refresh 策略的副本，入库任务使用 "wait_for"。
func (s *VectorStore) WithRefresh(refresh string) *VectorStore {
	cp := *s
	cp.refresh = refresh
	return &cp
}

// AddDocument 向量化 text 并写入 namespace。
func (s *VectorStore) AddDocument(ctx context.Context, text string, metadata map[string]string, namespace string) error {
	vec, err := s.embedder.CreateEmbedding(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to embed document: %w", err)
	}

	doc := model.VectorDocument{
		DocID:        uuid.NewString(),
		Namespace:    namespace,
		TextContent:  text,
		Vector:       vec,
		ModelVersion: s.embedder.ModelVersion(),
		Metadata:     metadata,
		CreatedAt:    time.Now().UTC(),
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      s.index,
		DocumentID: doc.DocID,
		Body:       bytes.NewReader(body),
		Refresh:    s.refresh,
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("failed to index document: %s", res.String())
	}
	return nil
}

// SearchSimilar 在 namespace 内做 kNN 检索，返回按分数降序的前 k 条。
func (s *VectorStore) SearchSimilar(ctx context.Context, query, namespace string, k int) ([]model.RAGDocument, error) {
	return s.search(ctx, query, k, map[string]string{"namespace": namespace})
}

// SearchFile 在 namespace 内检索属于指定文件的分块。
func (s *VectorStore) SearchFile(ctx context.Context, query, namespace, fileID string, k int) ([]model.RAGDocument, error) {
	return s.search(ctx, query, k, map[string]string{"namespace": namespace, "metadata.file_id": fileID})
}

func (s *VectorStore) search(ctx context.Context, query string, k int, terms map[string]string) ([]model.RAGDocument, error) {
	if k <= 0 {
		return nil, nil
	}
	vec, err := s.embedder.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	filters := make([]map[string]interface{}, 0, len(terms))
	for field, value := range terms {
		filters = append(filters, map[string]interface{}{
			"term": map[string]interface{}{field: value},
		})
	}
	candidates := k * 10
	if candidates < 50 {
		candidates = 50
	}
	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vec,
			"k":              k,
			"num_candidates": candidates,
			"filter":         map[string]interface{}{"bool": map[string]interface{}{"filter": filters}},
		},
		"size":    k,
		"_source": map[string]interface{}{"excludes": []string{"vector"}},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search es: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("es search returned %s: %s", res.Status(), string(body))
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.VectorDocument `json:"_source"`
				Score  float64              `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, errors.New("failed to decode es response: " + err.Error())
	}

	docs := make([]model.RAGDocument, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		docs = append(docs, model.RAGDocument{
			Text:     hit.Source.TextContent,
			Score:    hit.Score,
			Metadata: hit.Source.Metadata,
		})
	}
	return docs, nil
}

// DeleteFile 删除 namespace 下属于 fileID 的全部分块，重复入库前调用以保持幂等。
func (s *VectorStore) DeleteFile(ctx context.Context, namespace, fileID string) error {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []map[string]interface{}{
					{"term": map[string]interface{}{"namespace": namespace}},
					{"term": map[string]interface{}{"metadata.file_id": fileID}},
				},
			},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return err
	}
	res, err := s.client.DeleteByQuery(
		[]string{s.index},
		&buf,
		s.client.DeleteByQuery.WithContext(ctx),
		s.client.DeleteByQuery.WithConflicts("proceed"),
	)
	if err != nil {
		return fmt.Errorf("failed to delete file chunks: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("failed to delete file chunks: %s", res.String())
	}
	return nil
}
