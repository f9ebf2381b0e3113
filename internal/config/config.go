// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Queue         QueueConfig         `mapstructure:"queue"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Security      SecurityConfig      `mapstructure:"security"`
	Encryption    EncryptionConfig    `mapstructure:"encryption"`
	Assembler     AssemblerConfig     `mapstructure:"assembler"`
	Tools         ToolsConfig         `mapstructure:"tools"`
	Admission     AdmissionConfig     `mapstructure:"admission"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。只做校验，不负责签发。
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置，用于文件入库任务。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置，作为向量库使用。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey         string              `mapstructure:"api_key"`
	BaseURL        string              `mapstructure:"base_url"`
	Model          string              `mapstructure:"model"`
	SentinelModel  string              `mapstructure:"sentinel_model"`
	ImageModel     string              `mapstructure:"image_model"`
	TimeoutSeconds int                 `mapstructure:"timeout_seconds"`
	Generation     LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// QueueConfig 配置聊天任务队列。
type QueueConfig struct {
	Prefix              string `mapstructure:"prefix"`
	MaxAttempts         int    `mapstructure:"max_attempts"`
	BackoffBaseMillis   int    `mapstructure:"backoff_base_millis"`
	LeaseSeconds        int    `mapstructure:"lease_seconds"`
	PollIntervalMillis  int    `mapstructure:"poll_interval_millis"`
	DedupWindowSeconds  int    `mapstructure:"dedup_window_seconds"`
	CompletedRetentionS int    `mapstructure:"completed_retention_seconds"`
	DeadRetentionS      int    `mapstructure:"dead_retention_seconds"`
}

// WorkerConfig 配置 worker 池与维护任务。
type WorkerConfig struct {
	Concurrency        int `mapstructure:"concurrency"`
	MaintenanceMinutes int `mapstructure:"maintenance_minutes"`
	AuditRetentionDays int `mapstructure:"audit_retention_days"`
	JobTimeoutSeconds  int `mapstructure:"job_timeout_seconds"`
}

// SecurityConfig 配置输入/输出安全闸门。
type SecurityConfig struct {
	MaxInputLength  int      `mapstructure:"max_input_length"`
	DenyList        []string `mapstructure:"deny_list"`
	VerdictCacheLen int      `mapstructure:"verdict_cache_len"`
}

// EncryptionConfig 存储消息加密密钥。
type EncryptionConfig struct {
	Key string `mapstructure:"key"`
}

// AssemblerConfig 配置上下文组装。
type AssemblerConfig struct {
	Persona       string  `mapstructure:"persona"`
	MemoryLimit   int     `mapstructure:"memory_limit"`
	HistoryLimit  int     `mapstructure:"history_limit"`
	RAGTopK       int     `mapstructure:"rag_top_k"`
	RAGMinScore   float64 `mapstructure:"rag_min_score"`
	DocumentTopK  int     `mapstructure:"document_top_k"`
	RAGLabel      string  `mapstructure:"rag_label"`
	DocumentLabel string  `mapstructure:"document_label"`
}

// ToolsConfig 配置可用工具。
type ToolsConfig struct {
	Enabled        []string `mapstructure:"enabled"`
	SearchURL      string   `mapstructure:"search_url"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
}

// AdmissionConfig 配置限流与每日配额。
type AdmissionConfig struct {
	RateLimit       int `mapstructure:"rate_limit"`
	RateWindowS     int `mapstructure:"rate_window_seconds"`
	DailyTokenLimit int `mapstructure:"daily_token_limit"`
}

// LeaseDuration 返回任务租约时长。
func (q QueueConfig) LeaseDuration() time.Duration {
	return time.Duration(q.LeaseSeconds) * time.Second
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := v.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}

// Defaults 返回不读取任何文件时的默认配置，测试中直接使用。
func Defaults() Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		panic(fmt.Errorf("无法解析默认配置: %w", err))
	}
	return c
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("kafka.topic", "file-ingest")
	v.SetDefault("kafka.group_id", "sentinel-chat-ingest")
	v.SetDefault("elasticsearch.index_name", "chat_vectors")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.sentinel_model", "gpt-4o-mini")
	v.SetDefault("llm.image_model", "dall-e-3")
	v.SetDefault("llm.timeout_seconds", 60)

	v.SetDefault("queue.prefix", "chatq")
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff_base_millis", 1000)
	v.SetDefault("queue.lease_seconds", 120)
	v.SetDefault("queue.poll_interval_millis", 500)
	v.SetDefault("queue.dedup_window_seconds", 1)
	v.SetDefault("queue.completed_retention_seconds", 3600)
	v.SetDefault("queue.dead_retention_seconds", 7*24*3600)

	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.maintenance_minutes", 60)
	v.SetDefault("worker.audit_retention_days", 30)
	v.SetDefault("worker.job_timeout_seconds", 90)

	v.SetDefault("security.max_input_length", 20000)
	v.SetDefault("security.deny_list", []string{
		"ignore previous instructions",
		"system override",
		"you are not an ai",
		"simulated mode",
		"developer mode",
		"do anything now",
	})
	v.SetDefault("security.verdict_cache_len", 1024)

	v.SetDefault("assembler.memory_limit", 10)
	v.SetDefault("assembler.history_limit", 10)
	v.SetDefault("assembler.rag_top_k", 5)
	v.SetDefault("assembler.rag_min_score", 0.75)
	v.SetDefault("assembler.document_top_k", 5)
	v.SetDefault("assembler.rag_label", "RELEVANT CONTEXT:")
	v.SetDefault("assembler.document_label", "DOCUMENT CONTEXT:")

	v.SetDefault("tools.enabled", []string{"calculator", "generate_image", "search_web", "read_web_page"})
	v.SetDefault("tools.search_url", "https://html.duckduckgo.com/html/")
	v.SetDefault("tools.timeout_seconds", 10)

	v.SetDefault("admission.rate_limit", 20)
	v.SetDefault("admission.rate_window_seconds", 60)
	v.SetDefault("admission.daily_token_limit", 50000)
}
