// Package main 是 worker 进程的入口点：执行对话任务、维护清理、消费文件入库任务。
package main

import (
	"context"
	"flag"
	"os/signal"
	"sentinel-chat-go/internal/config"
	"sentinel-chat-go/internal/pipeline"
	"sentinel-chat-go/internal/queue"
	"sentinel-chat-go/internal/repository"
	"sentinel-chat-go/internal/security"
	"sentinel-chat-go/internal/service"
	"sentinel-chat-go/internal/tools"
	"sentinel-chat-go/internal/worker"
	"sentinel-chat-go/pkg/database"
	"sentinel-chat-go/pkg/embedding"
	"sentinel-chat-go/pkg/encryption"
	"sentinel-chat-go/pkg/es"
	"sentinel-chat-go/pkg/kafka"
	"sentinel-chat-go/pkg/llm"
	"sentinel-chat-go/pkg/log"
	"sentinel-chat-go/pkg/storage"
	"sentinel-chat-go/pkg/tika"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 1. 初始化配置与日志
	config.Init(*configPath)
	cfg := config.Conf
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()

	// 2. 初始化外部依赖
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch, cfg.Embedding.Dimensions); err != nil {
		log.Fatal("es 初始化失败", err)
	}

	cipher, err := encryption.NewCipher(cfg.Encryption.Key)
	if err != nil {
		log.Fatal("初始化消息加密失败", err)
	}

	// 3. 初始化 Repository
	messageRepo := repository.NewMessageRepository(database.DB)
	memoryRepo := repository.NewMemoryRepository(database.DB)
	fileRepo := repository.NewFileRepository(database.DB)
	auditRepo := repository.NewAuditRepository(database.DB)
	sessionRepo := repository.NewSessionRepository(database.DB)
	usageRepo := repository.NewUsageRepository(database.DB)
	chunkRepo := repository.NewDocumentChunkRepository(database.DB)

	// 4. 初始化客户端
	llmClient := llm.NewClient(cfg.LLM)
	sentinelCfg := cfg.LLM
	sentinelCfg.Model = cfg.LLM.SentinelModel
	sentinel, err := security.NewSentinel(llm.NewClient(sentinelCfg), cfg.Security.VerdictCacheLen)
	if err != nil {
		log.Fatal("初始化 Sentinel 失败", err)
	}
	embeddingClient := embedding.NewClient(cfg.Embedding)
	vectors := es.NewVectorStore(es.ESClient, cfg.Elasticsearch.IndexName, embeddingClient)
	objects := storage.NewObjectStore(storage.MinioClient, cfg.MinIO.BucketName)

	registry, err := tools.Build(cfg.Tools.Enabled, tools.Options{
		Images:    llmClient,
		SearchURL: cfg.Tools.SearchURL,
		Timeout:   time.Duration(cfg.Tools.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		log.Fatal("初始化工具失败", err)
	}

	// 5. 组装处理管道
	jobQueue := queue.New(database.RDB, queue.Options{
		Prefix:             cfg.Queue.Prefix,
		MaxAttempts:        cfg.Queue.MaxAttempts,
		BackoffBase:        time.Duration(cfg.Queue.BackoffBaseMillis) * time.Millisecond,
		Lease:              cfg.Queue.LeaseDuration(),
		PollInterval:       time.Duration(cfg.Queue.PollIntervalMillis) * time.Millisecond,
		CompletedRetention: time.Duration(cfg.Queue.CompletedRetentionS) * time.Second,
		DeadRetention:      time.Duration(cfg.Queue.DeadRetentionS) * time.Second,
	})
	admission := service.NewAdmission(database.RDB, cfg.Admission.RateLimit,
		time.Duration(cfg.Admission.RateWindowS)*time.Second, cfg.Admission.DailyTokenLimit)

	processor := pipeline.NewChatProcessor(pipeline.Deps{
		Gate:      security.NewInputGate(cfg.Security.MaxInputLength, cfg.Security.DenyList, sentinel),
		Output:    security.OutputGate{},
		Assembler: pipeline.NewAssembler(cfg.Assembler, memoryRepo, messageRepo, fileRepo, vectors, objects, cipher),
		Loop:      pipeline.NewToolLoop(llmClient, registry),
		Messages:  messageRepo,
		Audit:     auditRepo,
		Cipher:    cipher,
		Meter:     service.NewMetering(usageRepo, admission),
	})

	janitor := worker.NewJanitor(sessionRepo, auditRepo, jobQueue,
		time.Duration(cfg.Worker.AuditRetentionDays)*24*time.Hour)
	pool := worker.NewPool(jobQueue, processor, cipher, janitor, worker.Options{
		Concurrency:         cfg.Worker.Concurrency,
		JobTimeout:          time.Duration(cfg.Worker.JobTimeoutSeconds) * time.Second,
		MaintenanceInterval: time.Duration(cfg.Worker.MaintenanceMinutes) * time.Minute,
		AuditRetention:      time.Duration(cfg.Worker.AuditRetentionDays) * 24 * time.Hour,
	})

	ingest := pipeline.NewIngestProcessor(objects, tika.NewClient(cfg.Tika), chunkRepo, vectors)
	consumer := kafka.NewConsumer(cfg.Kafka, database.RDB, ingest, cfg.Queue.MaxAttempts)

	// 6. 运行直到收到停机信号
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error { return consumer.Run(gctx) })

	log.Info("worker 已启动")
	if err := g.Wait(); err != nil {
		log.Errorf("worker 异常退出: %v", err)
	}
	log.Info("worker 已停止")
}
