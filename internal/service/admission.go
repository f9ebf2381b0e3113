package service

import (
	"context"
	"errors"
	"fmt"
	"sentinel-chat-go/pkg/log"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

var (
	ErrRateLimited   = errors.New("rate limit exceeded")
	ErrQuotaExceeded = errors.New("daily token quota exceeded")
)

// 固定窗口计数：首次自增时设置过期。
var rateLimitScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// 累加用量并保证 key 一定带有过期时间。
var quotaAddScript = redis.NewScript(`
local n = redis.call('INCRBY', KEYS[1], ARGV[1])
if redis.call('TTL', KEYS[1]) < 0 then
  redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return n
`)

// Admission 在任务入队前做限流与每日配额检查，计数保存在 Redis 中，多实例共享。
type Admission struct {
	rdb        *redis.Client
	rateLimit  int64
	window     time.Duration
	dailyLimit int64
	now        func() time.Time
}

// NewAdmission 创建 Admission。rateLimit 或 dailyLimit 为 0 时对应检查关闭。
func NewAdmission(rdb *redis.Client, rateLimit int, window time.Duration, dailyLimit int) *Admission {
	if window <= 0 {
		window = time.Minute
	}
	return &Admission{
		rdb:        rdb,
		rateLimit:  int64(rateLimit),
		window:     window,
		dailyLimit: int64(dailyLimit),
		now:        time.Now,
	}
}

func (a *Admission) rateKey(userID string) string {
	return "ratelimit:chat:" + userID
}

func (a *Admission) quotaKey(userID string) string {
	return "quota:tokens:" + userID + ":" + a.now().UTC().Format("20060102")
}

// Allow 对用户请求计数，超过窗口内上限时返回 ErrRateLimited。
func (a *Admission) Allow(ctx context.Context, userID string) error {
	if a.rateLimit <= 0 {
		return nil
	}
	n, err := rateLimitScript.Run(ctx, a.rdb, []string{a.rateKey(userID)}, a.window.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("rate limit check failed: %w", err)
	}
	if n > a.rateLimit {
		return ErrRateLimited
	}
	return nil
}

// CheckQuota 检查用户当日 token 用量是否已达上限。
func (a *Admission) CheckQuota(ctx context.Context, userID string) error {
	if a.dailyLimit <= 0 {
		return nil
	}
	used, err := a.rdb.Get(ctx, a.quotaKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("quota check failed: %w", err)
	}
	if used >= a.dailyLimit {
		return ErrQuotaExceeded
	}
	return nil
}

// AddUsage 累加用户当日 token 用量，返回累加后的值。
func (a *Admission) AddUsage(ctx context.Context, userID string, tokens int) (int64, error) {
	ttl := strconv.Itoa(int((48 * time.Hour).Seconds()))
	return quotaAddScript.Run(ctx, a.rdb, []string{a.quotaKey(userID)}, tokens, ttl).Int64()
}

// Metering 记录每个完成任务的 token 用量：明细落库，同时累加 Redis 中的每日配额计数。
type Metering struct {
	usage     UsageRecorder
	admission *Admission
}

// UsageRecorder 由 repository.UsageRepository 实现。
type UsageRecorder interface {
	Record(ctx context.Context, userID string, tokens int) error
}

func NewMetering(usage UsageRecorder, admission *Admission) *Metering {
	return &Metering{usage: usage, admission: admission}
}

// Record 写入用量明细。配额计数失败只记录日志，不影响返回值。
func (m *Metering) Record(ctx context.Context, userID string, tokens int) error {
	if tokens < 0 {
		tokens = 0
	}
	if m.admission != nil && tokens > 0 {
		if _, err := m.admission.AddUsage(ctx, userID, tokens); err != nil {
			log.Warnf("[Metering] quota counter update failed for user %s: %v", userID, err)
		}
	}
	if err := m.usage.Record(ctx, userID, tokens); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}
