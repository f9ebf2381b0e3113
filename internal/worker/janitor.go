package worker

import (
	"context"
	"sentinel-chat-go/pkg/log"
	"time"
)

type SessionCleaner interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type AuditCleaner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type DeadLetterPurger interface {
	PurgeDead(ctx context.Context) (int64, error)
}

// Janitor 执行维护任务：删除过期会话、超过保留期的审计日志和过期的死信。
// 所有删除都是幂等的，多个进程同时执行没有问题。
type Janitor struct {
	sessions  SessionCleaner
	audit     AuditCleaner
	dead      DeadLetterPurger
	retention time.Duration
	now       func() time.Time
}

func NewJanitor(sessions SessionCleaner, audit AuditCleaner, dead DeadLetterPurger, auditRetention time.Duration) *Janitor {
	if auditRetention <= 0 {
		auditRetention = 30 * 24 * time.Hour
	}
	return &Janitor{sessions: sessions, audit: audit, dead: dead, retention: auditRetention, now: time.Now}
}

// Run 启动时先执行一次，之后按 interval 周期执行，直到 ctx 取消。
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	j.RunOnce(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce 执行一轮清理，单项失败只记录日志。
func (j *Janitor) RunOnce(ctx context.Context) {
	now := j.now()
	if j.sessions != nil {
		if n, err := j.sessions.DeleteExpired(ctx, now); err != nil {
			log.Errorf("[Maintenance] 清理过期会话失败: %v", err)
		} else if n > 0 {
			log.Infof("[Maintenance] 已删除 %d 个过期会话", n)
		}
	}
	if j.audit != nil {
		if n, err := j.audit.DeleteOlderThan(ctx, now.Add(-j.retention)); err != nil {
			log.Errorf("[Maintenance] 清理审计日志失败: %v", err)
		} else if n > 0 {
			log.Infof("[Maintenance] 已删除 %d 条审计日志", n)
		}
	}
	if j.dead != nil {
		if n, err := j.dead.PurgeDead(ctx); err != nil {
			log.Errorf("[Maintenance] 清理死信失败: %v", err)
		} else if n > 0 {
			log.Infof("[Maintenance] 已清理 %d 个过期死信", n)
		}
	}
}
