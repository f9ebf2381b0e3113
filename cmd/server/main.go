// Package main 是 HTTP 服务的入口点：接收对话任务、查询状态、触发文件入库。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sentinel-chat-go/internal/config"
	"sentinel-chat-go/internal/handler"
	"sentinel-chat-go/internal/queue"
	"sentinel-chat-go/internal/repository"
	"sentinel-chat-go/internal/service"
	"sentinel-chat-go/pkg/database"
	"sentinel-chat-go/pkg/encryption"
	"sentinel-chat-go/pkg/kafka"
	"sentinel-chat-go/pkg/log"
	"sentinel-chat-go/pkg/token"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 1. 初始化配置
	config.Init(*configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库和 Redis
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)

	cipher, err := encryption.NewCipher(cfg.Encryption.Key)
	if err != nil {
		log.Fatal("初始化消息加密失败", err)
	}

	// 4. 初始化 Repository 与 Service
	chatRepo := repository.NewChatRepository(database.DB)
	messageRepo := repository.NewMessageRepository(database.DB)
	fileRepo := repository.NewFileRepository(database.DB)

	jobQueue := queue.New(database.RDB, queueOptions(cfg.Queue))
	admission := service.NewAdmission(database.RDB, cfg.Admission.RateLimit,
		time.Duration(cfg.Admission.RateWindowS)*time.Second, cfg.Admission.DailyTokenLimit)
	chatService := service.NewChatService(jobQueue, chatRepo, messageRepo, admission, cipher,
		time.Duration(cfg.Queue.DedupWindowSeconds)*time.Second)

	producer := kafka.NewProducer(cfg.Kafka)
	defer producer.Close()

	jwtManager := token.NewJWTManager(cfg.JWT.Secret)

	// 5. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := handler.NewRouter(
		jwtManager,
		handler.NewChatHandler(chatService, fileRepo, time.Duration(cfg.Queue.PollIntervalMillis)*time.Millisecond),
		handler.NewFileHandler(fileRepo, producer),
	)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}

func queueOptions(q config.QueueConfig) queue.Options {
	return queue.Options{
		Prefix:             q.Prefix,
		MaxAttempts:        q.MaxAttempts,
		BackoffBase:        time.Duration(q.BackoffBaseMillis) * time.Millisecond,
		Lease:              q.LeaseDuration(),
		PollInterval:       time.Duration(q.PollIntervalMillis) * time.Millisecond,
		CompletedRetention: time.Duration(q.CompletedRetentionS) * time.Second,
		DeadRetention:      time.Duration(q.DeadRetentionS) * time.Second,
	}
}
