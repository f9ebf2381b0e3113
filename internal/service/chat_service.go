// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"sentinel-chat-go/internal/model"
	"sentinel-chat-go/internal/queue"
	"sentinel-chat-go/internal/repository"
	"sentinel-chat-go/pkg/log"
	"time"

	"github.com/google/uuid"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrChatNotFound = errors.New("chat not found")
)

// 死信任务对外只返回这条通用信息，不暴露内部错误。
const FailedJobMessage = "The request could not be completed. Please try again later."

// 对外暴露的任务状态。
const (
	PollQueued    = "queued"
	PollActive    = "active"
	PollCompleted = "completed"
	PollFailed    = "failed"
)

// SubmitRequest 是一次提交对话的请求。
type SubmitRequest struct {
	ChatID    string
	UserID    string
	Message   string
	FileID    string
	RequestID string
}

// PollResult 是任务状态查询的结果。UserID 仅用于归属校验，不序列化。
type PollResult struct {
	State  string `json:"state"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	UserID string `json:"-"`
	ChatID string `json:"-"`
}

// Terminal 判断轮询结果是否已经是终态。
func (p *PollResult) Terminal() bool {
	return p.State == PollCompleted || p.State == PollFailed
}

// JobQueue 是 ChatService 依赖的队列操作，由 *queue.Queue 实现。
type JobQueue interface {
	Enqueue(ctx context.Context, job model.ChatJob) (*model.ChatJob, bool, error)
	Get(ctx context.Context, id string) (*model.ChatJob, error)
}

// Cipher 加解密消息内容。
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(encoded string) (string, error)
}

// ChatService 定义了对话任务的提交与查询接口。
type ChatService interface {
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	Poll(ctx context.Context, jobID string) (*PollResult, error)
}

type chatService struct {
	queue       JobQueue
	chats       repository.ChatRepository
	messages    repository.MessageRepository
	admission   *Admission
	cipher      Cipher
	dedupWindow time.Duration
	now         func() time.Time
}

// NewChatService 创建一个新的 ChatService 实例。admission 为 nil 时不做限流和配额检查。
func NewChatService(q JobQueue, chats repository.ChatRepository, messages repository.MessageRepository, admission *Admission, cipher Cipher, dedupWindow time.Duration) ChatService {
	if dedupWindow < time.Second {
		dedupWindow = time.Second
	}
	return &chatService{
		queue:       q,
		chats:       chats,
		messages:    messages,
		admission:   admission,
		cipher:      cipher,
		dedupWindow: dedupWindow,
		now:         time.Now,
	}
}

// IdempotencyKey 计算任务 ID：同一会话、同一用户在同一去重窗口内的提交得到相同的 ID。
func IdempotencyKey(chatID, userID string, at time.Time, window time.Duration) string {
	secs := int64(window / time.Second)
	if secs <= 0 {
		secs = 1
	}
	return fmt.Sprintf("%s-%s-%d", chatID, userID, at.Unix()/secs)
}

// Submit 完成提交前的全部检查，持久化加密后的用户消息，然后入队。
// 去重窗口内的重复提交直接返回已有任务 ID，不会再写入用户消息。
func (s *chatService) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if s.admission != nil {
		if err := s.admission.Allow(ctx, req.UserID); err != nil {
			return "", err
		}
		if err := s.admission.CheckQuota(ctx, req.UserID); err != nil {
			return "", err
		}
	}

	owned, err := s.chats.OwnedBy(ctx, req.ChatID, req.UserID)
	if err != nil {
		return "", fmt.Errorf("check chat ownership: %w", err)
	}
	if !owned {
		return "", ErrChatNotFound
	}

	jobID := IdempotencyKey(req.ChatID, req.UserID, s.now(), s.dedupWindow)
	if existing, err := s.queue.Get(ctx, jobID); err == nil {
		log.Infof("[ChatService] 去重命中, jobID: %s, state: %s", jobID, existing.State)
		return existing.ID, nil
	} else if !errors.Is(err, queue.ErrNotFound) {
		return "", fmt.Errorf("lookup job: %w", err)
	}

	sealed, err := s.cipher.Encrypt(req.Message)
	if err != nil {
		return "", fmt.Errorf("encrypt message: %w", err)
	}
	if err := s.messages.Append(ctx, &model.Message{
		ChatID:    req.ChatID,
		Role:      model.RoleUser,
		Content:   sealed,
		Encrypted: true,
	}); err != nil {
		return "", fmt.Errorf("persist user message: %w", err)
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	job, created, err := s.queue.Enqueue(ctx, model.ChatJob{
		ID:        jobID,
		ChatID:    req.ChatID,
		UserID:    req.UserID,
		Message:   sealed,
		FileID:    req.FileID,
		RequestID: requestID,
	})
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	log.Infow("[ChatService] job submitted", "jobID", job.ID, "chatID", req.ChatID, "userID", req.UserID, "created", created, "requestID", requestID)
	return job.ID, nil
}

// Poll 查询任务状态。重试等待中的任务对外仍显示为 queued，死信任务显示为 failed。
func (s *chatService) Poll(ctx context.Context, jobID string) (*PollResult, error) {
	job, err := s.queue.Get(ctx, jobID)
	if errors.Is(err, queue.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	res := &PollResult{UserID: job.UserID, ChatID: job.ChatID}
	switch job.State {
	case model.JobQueued, model.JobFailed:
		res.State = PollQueued
	case model.JobActive:
		res.State = PollActive
	case model.JobCompleted:
		res.State = PollCompleted
		if job.Result != "" {
			plain, err := s.cipher.Decrypt(job.Result)
			if err != nil {
				log.Errorf("[ChatService] 解密任务结果失败, jobID: %s, err: %v", jobID, err)
				res.State = PollFailed
				res.Error = FailedJobMessage
				return res, nil
			}
			res.Result = plain
		}
	case model.JobDead:
		res.State = PollFailed
		res.Error = FailedJobMessage
	default:
		res.State = PollQueued
	}
	return res, nil
}
