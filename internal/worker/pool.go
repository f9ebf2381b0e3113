// Package worker 从队列中领取对话任务并执行，同时负责周期性的数据清理。
package worker

import (
	"context"
	"errors"
	"fmt"
	"sentinel-chat-go/internal/model"
	"sentinel-chat-go/internal/pipeline"
	"sentinel-chat-go/internal/queue"
	"sentinel-chat-go/pkg/log"
	"time"

	"golang.org/x/sync/errgroup"
)

// JobQueue 是 worker 使用的队列操作，由 *queue.Queue 实现。
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Lease, error)
	Ack(ctx context.Context, lease *queue.Lease, result string) error
	Nack(ctx context.Context, lease *queue.Lease, cause error, retryable bool) (queue.NackResult, error)
}

// Processor 执行单个任务。
type Processor interface {
	Process(ctx context.Context, job model.ChatJob) pipeline.Outcome
}

// Encrypter 在 Ack 前加密回复内容。
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

// Options 配置 worker 池。
type Options struct {
	Concurrency         int
	JobTimeout          time.Duration
	MaintenanceInterval time.Duration
	AuditRetention      time.Duration
}

func (o *Options) withDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 90 * time.Second
	}
	if o.MaintenanceInterval <= 0 {
		o.MaintenanceInterval = time.Hour
	}
	if o.AuditRetention <= 0 {
		o.AuditRetention = 30 * 24 * time.Hour
	}
}

// Pool 是共享同一个队列的 K 个 worker。
type Pool struct {
	queue     JobQueue
	processor Processor
	cipher    Encrypter
	janitor   *Janitor
	opts      Options
}

// NewPool 创建 worker 池。janitor 为 nil 时不运行维护循环。
func NewPool(q JobQueue, processor Processor, cipher Encrypter, janitor *Janitor, opts Options) *Pool {
	opts.withDefaults()
	return &Pool{queue: q, processor: processor, cipher: cipher, janitor: janitor, opts: opts}
}

// Run 启动所有 worker 与维护循环，阻塞直到 ctx 取消。
// 正在执行的任务会跑完（受 JobTimeout 约束）后再退出。
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.opts.Concurrency; i++ {
		id := i
		g.Go(func() error {
			p.loop(gctx, id)
			return nil
		})
	}
	if p.janitor != nil {
		g.Go(func() error {
			p.janitor.Run(gctx, p.opts.MaintenanceInterval)
			return nil
		})
	}
	log.Infof("[Worker] 已启动 %d 个 worker", p.opts.Concurrency)
	return g.Wait()
}

func (p *Pool) loop(ctx context.Context, id int) {
	for {
		lease, err := p.queue.Dequeue(ctx)
		if ctx.Err() != nil {
			if lease != nil {
				// 已领取但来不及执行，等待租约过期后重新投递。
				log.Warnf("[Worker %d] 退出时放弃任务 %s", id, lease.Job.ID)
			}
			return
		}
		if err != nil {
			log.Errorf("[Worker %d] 出队失败: %v", id, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		p.Handle(context.WithoutCancel(ctx), lease)
	}
}

// Handle 执行一个已领取的任务并按结果 Ack 或 Nack。
func (p *Pool) Handle(ctx context.Context, lease *queue.Lease) {
	job := lease.Job
	start := time.Now()

	outcome := p.process(ctx, job)
	log.Infow("[Worker] job processed",
		"jobID", job.ID, "attempt", job.Attempt, "outcome", outcome.Kind.String(),
		"tokens", outcome.Tokens, "elapsed", time.Since(start).String())

	if outcome.Completed() {
		sealed, err := p.cipher.Encrypt(outcome.Content)
		if err != nil {
			p.nack(ctx, lease, fmt.Errorf("encrypt result: %w", err), false)
			return
		}
		if err := p.queue.Ack(ctx, lease, sealed); err != nil {
			if errors.Is(err, queue.ErrLeaseLost) {
				log.Warnf("[Worker] 任务 %s 租约已失效, 结果丢弃", job.ID)
				return
			}
			log.Errorf("[Worker] Ack 任务 %s 失败: %v", job.ID, err)
		}
		return
	}
	p.nack(ctx, lease, outcome.Err, outcome.Kind == pipeline.Retryable)
}

func (p *Pool) process(ctx context.Context, job model.ChatJob) (out pipeline.Outcome) {
	jobCtx, cancel := context.WithTimeout(ctx, p.opts.JobTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[Worker] 任务 %s 处理时 panic: %v", job.ID, r)
			out = pipeline.Outcome{Kind: pipeline.Retryable, Err: fmt.Errorf("processor panic: %v", r)}
		}
	}()
	return p.processor.Process(jobCtx, job)
}

func (p *Pool) nack(ctx context.Context, lease *queue.Lease, cause error, retryable bool) {
	if cause == nil {
		cause = errors.New("unknown failure")
	}
	res, err := p.queue.Nack(ctx, lease, cause, retryable)
	switch {
	case errors.Is(err, queue.ErrLeaseLost):
		log.Warnf("[Worker] 任务 %s 租约已失效, Nack 被拒绝", lease.Job.ID)
	case err != nil:
		log.Errorf("[Worker] Nack 任务 %s 失败: %v", lease.Job.ID, err)
	case res == queue.NackDead:
		log.Warnw("[Worker] job moved to dead letters", "jobID", lease.Job.ID, "attempt", lease.Job.Attempt, "error", cause.Error())
	default:
		log.Infow("[Worker] job scheduled for retry", "jobID", lease.Job.ID, "attempt", lease.Job.Attempt, "error", cause.Error())
	}
}
