// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// IngestTask 描述一次文件入库：从 MinIO 下载、Tika 抽取文本、分块后写入向量库。
type IngestTask struct {
	FileID    string `json:"file_id"`
	UserID    string `json:"user_id"`
	ObjectKey string `json:"object_key"`
	FileName  string `json:"file_name"`
	MimeType  string `json:"mime_type"`
}
