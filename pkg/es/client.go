// Package es 提供了与 Elasticsearch 交互的客户端功能，作为对话与文档的向量库。
package es

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sentinel-chat-go/internal/config"
	"sentinel-chat-go/pkg/log"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
)

var ESClient *elasticsearch.Client

// InitES 初始化 Elasticsearch 客户端并确保向量索引存在。
func InitES(esCfg config.ElasticsearchConfig, dims int) error {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return err
	}
	ESClient = client
	return EnsureIndex(client, esCfg.IndexName, dims)
}

// indexMapping 返回向量索引的 mapping。namespace 为用户 ID，所有检索都按其过滤。
func indexMapping(dims int) string {
	return fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"doc_id": { "type": "keyword" },
				"namespace": { "type": "keyword" },
				"text_content": { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"model_version": { "type": "keyword" },
				"metadata": {
					"properties": {
						"role": { "type": "keyword" },
						"chat_id": { "type": "keyword" },
						"file_id": { "type": "keyword" },
						"source": { "type": "keyword" },
						"chunk_id": { "type": "keyword" }
					}
				},
				"created_at": { "type": "date" }
			}
		}
	}`, dims)
}

// EnsureIndex 检查索引是否存在，如果不存在则创建它
func EnsureIndex(client *elasticsearch.Client, indexName string, dims int) error {
	res, err := client.Indices.Exists([]string{indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = client.Indices.Create(
		indexName,
		client.Indices.Create.WithBody(strings.NewReader(indexMapping(dims))),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}
