// Package queue 实现基于 Redis 的持久化聊天任务队列。
//
// 语义为至少一次投递：出队时授予带期限的独占租约，租约过期的任务会被重新投递；
// 失败任务按指数退避重试，超过上限后进入死信集合，不再自动投递。
// 任务 ID 同时是幂等键，同一 ID 在未过期前重复入队只返回已有任务。
package queue

import (
	"context"
	"errors"
	"fmt"
	"sentinel-chat-go/internal/model"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var (
	// ErrLeaseLost 表示租约已过期或已被其他 worker 接管，Ack/Nack 被拒绝。
	ErrLeaseLost = errors.New("queue: lease lost")
	// ErrNotFound 表示任务不存在或已过期清理。
	ErrNotFound = errors.New("queue: job not found")
)

// Options 配置队列行为。
type Options struct {
	Prefix             string
	MaxAttempts        int
	BackoffBase        time.Duration
	Lease              time.Duration
	PollInterval       time.Duration
	CompletedRetention time.Duration
	DeadRetention      time.Duration
}

func (o *Options) withDefaults() {
	if o.Prefix == "" {
		o.Prefix = "chatq"
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.Lease <= 0 {
		o.Lease = 2 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.CompletedRetention <= 0 {
		o.CompletedRetention = time.Hour
	}
	if o.DeadRetention <= 0 {
		o.DeadRetention = 7 * 24 * time.Hour
	}
}

// Lease 是一次出队授予的独占租约。
type Lease struct {
	Job   model.ChatJob
	Token string
	Until time.Time
}

// NackResult 描述 Nack 之后任务的去向。
type NackResult int

const (
	NackRetried NackResult = iota + 1
	NackDead
)

// Queue 是 Redis 实现的任务队列，可被多个 worker 并发使用。
type Queue struct {
	rdb  *redis.Client
	opts Options
	now  func() time.Time
}

// New 创建一个新的 Queue。
func New(rdb *redis.Client, opts Options) *Queue {
	opts.withDefaults()
	return &Queue{rdb: rdb, opts: opts, now: time.Now}
}

func (q *Queue) jobKeyPrefix() string { return q.opts.Prefix + ":job:" }
func (q *Queue) jobKey(id string) string {
	return q.jobKeyPrefix() + id
}
func (q *Queue) readyKey() string  { return q.opts.Prefix + ":ready" }
func (q *Queue) activeKey() string { return q.opts.Prefix + ":active" }
func (q *Queue) deadKey() string   { return q.opts.Prefix + ":dead" }

// Enqueue 以 job.ID 为幂等键入队。若该键已存在（未完成或刚完成），
// 不会创建新任务，而是返回已有任务，created 为 false。
func (q *Queue) Enqueue(ctx context.Context, job model.ChatJob) (existing *model.ChatJob, created bool, err error) {
	if job.ID == "" {
		return nil, false, errors.New("queue: job id is required")
	}
	nowMs := strconv.FormatInt(q.now().UnixMilli(), 10)
	n, err := enqueueScript.Run(ctx, q.rdb,
		[]string{q.jobKey(job.ID), q.readyKey()},
		job.ID, job.ChatID, job.UserID, job.Message, job.FileID, job.RequestID, nowMs,
	).Int()
	if err != nil {
		return nil, false, fmt.Errorf("failed to enqueue job: %w", err)
	}
	stored, err := q.Get(ctx, job.ID)
	if err != nil {
		return nil, false, err
	}
	return stored, n == 1, nil
}

// Dequeue 阻塞轮询直到有可执行任务或 ctx 结束，成功时返回独占租约。
func (q *Queue) Dequeue(ctx context.Context) (*Lease, error) {
	for {
		lease, err := q.TryDequeue(ctx)
		if err != nil || lease != nil {
			return lease, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.opts.PollInterval):
		}
	}
}

// TryDequeue 尝试领取一个任务，没有可执行任务时返回 (nil, nil)。
// 同时回收租约已过期的任务。
func (q *Queue) TryDequeue(ctx context.Context) (*Lease, error) {
	now := q.now()
	token := uuid.NewString()
	res, err := dequeueScript.Run(ctx, q.rdb,
		[]string{q.readyKey(), q.activeKey(), q.deadKey()},
		now.UnixMilli(), q.opts.Lease.Milliseconds(), token, q.jobKeyPrefix(),
		q.opts.MaxAttempts, int64(q.opts.DeadRetention.Seconds()),
	).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}
	fields, err := pairsToMap(res)
	if err != nil {
		return nil, err
	}
	return &Lease{
		Job:   jobFromFields(fields),
		Token: token,
		Until: now.Add(q.opts.Lease),
	}, nil
}

// Ack 将任务标记为 completed 并移出队列，result 为加密后的回复。
// 任务记录保留 CompletedRetention，期间同一幂等键不会再次执行。
func (q *Queue) Ack(ctx context.Context, lease *Lease, result string) error {
	n, err := ackScript.Run(ctx, q.rdb,
		[]string{q.jobKey(lease.Job.ID), q.activeKey()},
		lease.Job.ID, lease.Token, result, q.now().UnixMilli(), int64(q.opts.CompletedRetention.Seconds()),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to ack job %s: %w", lease.Job.ID, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Nack 记录失败。retryable 且未达到重试上限时按指数退避重新排队，否则进入死信。
func (q *Queue) Nack(ctx context.Context, lease *Lease, cause error, retryable bool) (NackResult, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	flag := "0"
	if retryable {
		flag = "1"
	}
	n, err := nackScript.Run(ctx, q.rdb,
		[]string{q.jobKey(lease.Job.ID), q.activeKey(), q.readyKey(), q.deadKey()},
		lease.Job.ID, lease.Token, msg, q.now().UnixMilli(), flag,
		q.opts.MaxAttempts, q.opts.BackoffBase.Milliseconds(), int64(q.opts.DeadRetention.Seconds()),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to nack job %s: %w", lease.Job.ID, err)
	}
	switch n {
	case 1:
		return NackRetried, nil
	case 2:
		return NackDead, nil
	default:
		return 0, ErrLeaseLost
	}
}

// Get 读取任务当前记录。
func (q *Queue) Get(ctx context.Context, id string) (*model.ChatJob, error) {
	fields, err := q.rdb.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	job := jobFromFields(fields)
	return &job, nil
}

// DeadLetters 返回最近进入死信的任务，供排查使用。
func (q *Queue) DeadLetters(ctx context.Context, limit int64) ([]model.ChatJob, error) {
	ids, err := q.rdb.ZRevRange(ctx, q.deadKey(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	jobs := make([]model.ChatJob, 0, len(ids))
	for _, id := range ids {
		job, err := q.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}

// PurgeDead 清理死信集合中超过保留期的索引项（任务记录本身由 TTL 过期）。
// 重复执行是安全的。
func (q *Queue) PurgeDead(ctx context.Context) (int64, error) {
	cutoff := q.now().Add(-q.opts.DeadRetention).UnixMilli()
	return q.rdb.ZRemRangeByScore(ctx, q.deadKey(), "-inf", strconv.FormatInt(cutoff, 10)).Result()
}

// Depth 返回等待执行与执行中的任务数。
func (q *Queue) Depth(ctx context.Context) (ready, active int64, err error) {
	pipe := q.rdb.Pipeline()
	r := pipe.ZCard(ctx, q.readyKey())
	a := pipe.ZCard(ctx, q.activeKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return r.Val(), a.Val(), nil
}

func pairsToMap(res interface{}) (map[string]string, error) {
	items, ok := res.([]interface{})
	if !ok || len(items)%2 != 0 {
		return nil, fmt.Errorf("queue: unexpected script reply %T", res)
	}
	fields := make(map[string]string, len(items)/2)
	for i := 0; i < len(items); i += 2 {
		k, _ := items[i].(string)
		v, _ := items[i+1].(string)
		fields[k] = v
	}
	return fields, nil
}

func jobFromFields(f map[string]string) model.ChatJob {
	attempt, _ := strconv.Atoi(f["attempt"])
	return model.ChatJob{
		ID:        f["id"],
		ChatID:    f["chat_id"],
		UserID:    f["user_id"],
		Message:   f["message"],
		FileID:    f["file_id"],
		RequestID: f["request_id"],
		Attempt:   attempt,
		State:     model.JobState(f["state"]),
		Result:    f["result"],
		LastError: f["last_error"],
		CreatedAt: parseMillis(f["created_at"]),
		UpdatedAt: parseMillis(f["updated_at"]),
	}
}

func parseMillis(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(int64(ms))
}
