// Package kafka 提供了与 Kafka 消息队列交互的功能，用于投递文件入库任务。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sentinel-chat-go/internal/config"
	"sentinel-chat-go/pkg/log"
	"sentinel-chat-go/pkg/tasks"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.IngestTask) error
}

// Producer 发送入库任务。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(cfg.Brokers, ",")...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}}
}

// ProduceIngestTask 发送一个文件入库任务，以 FileID 作为消息 key 保证同一文件顺序处理。
func (p *Producer) ProduceIngestTask(ctx context.Context, task tasks.IngestTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.FileID),
		Value: taskBytes,
	})
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer 消费入库任务。
// kafka-go 在同一个 reader 会话内不会重新投递已拉取的消息，因此失败重试在 handle 内完成：
// 按指数退避最多处理 maxAttempts 次后提交 offset。尝试次数同时记录在 Redis 中，进程重启后继续累计。
type Consumer struct {
	reader      *kafka.Reader
	rdb         *redis.Client
	processor   TaskProcessor
	maxAttempts int64
	backoff     time.Duration
}

// NewConsumer 创建消费者。
func NewConsumer(cfg config.KafkaConfig, rdb *redis.Client, processor TaskProcessor, maxAttempts int) *Consumer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  strings.Split(cfg.Brokers, ","),
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6, // 10MB
		}),
		rdb:         rdb,
		processor:   processor,
		maxAttempts: int64(maxAttempts),
		backoff:     time.Second,
	}
}

// Run 循环拉取消息直到 ctx 结束。
func (c *Consumer) Run(ctx context.Context) error {
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", c.reader.Config().Topic)
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("从 Kafka 读取消息失败: %w", err)
		}

		if !c.handle(ctx, m.Value) {
			// 重试期间收到停机信号，不提交 offset，重启后从该消息继续。
			return nil
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}
}

// handle 处理一条消息，成功或重试次数用尽时返回 true（应提交 offset）。
// 只有在 ctx 结束时返回 false。
func (c *Consumer) handle(ctx context.Context, value []byte) bool {
	var task tasks.IngestTask
	if err := json.Unmarshal(value, &task); err != nil {
		// 消息格式错误，直接提交，避免阻塞队列
		log.Errorf("无法解析 Kafka 消息: %v", err)
		return true
	}

	attemptsKey := "kafka:attempts:" + task.FileID
	var local int64
	for {
		local++
		attempt := c.nextAttempt(ctx, attemptsKey, local)

		log.Infof("开始处理入库任务: FileID=%s, attempt=%d", task.FileID, attempt)
		err := c.processor.Process(ctx, task)
		if err == nil {
			log.Infof("入库任务处理成功: FileID=%s", task.FileID)
			_ = c.rdb.Del(ctx, attemptsKey).Err()
			return true
		}
		log.Errorf("处理入库任务失败: FileID=%s, attempt=%d, Error: %v", task.FileID, attempt, err)

		if attempt >= c.maxAttempts {
			log.Errorf("入库任务多次失败(>=%d)，提交 offset 终止重试: FileID=%s", c.maxAttempts, task.FileID)
			_ = c.rdb.Del(ctx, attemptsKey).Err()
			return true
		}

		delay := c.backoff * time.Duration(int64(1)<<(attempt-1))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
	}
}

// nextAttempt 在 Redis 中累加尝试次数。Redis 不可用时退回进程内计数。
func (c *Consumer) nextAttempt(ctx context.Context, key string, local int64) int64 {
	n, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		log.Warnf("更新入库任务尝试次数失败: %v", err)
		return local
	}
	_ = c.rdb.Expire(ctx, key, 24*time.Hour).Err()
	return n
}
