package pipeline

import (
	"context"
	"fmt"
	"sentinel-chat-go/internal/model"
	"sentinel-chat-go/internal/repository"
	"sentinel-chat-go/internal/security"
	"sentinel-chat-go/pkg/log"
)

// Deps 汇集处理一个对话任务所需的全部协作者，启动时构建一次，在所有 worker 间共享。
type Deps struct {
	Gate      *security.InputGate
	Output    security.OutputGate
	Assembler *Assembler
	Loop      *ToolLoop
	Messages  repository.MessageRepository
	Audit     repository.AuditRepository
	Cipher    Cipher
	Meter     Meter
}

// ChatProcessor 执行单个对话任务：输入闸门 -> 上下文组装 -> 工具循环 -> 输出闸门 -> 持久化与计量。
type ChatProcessor struct {
	deps Deps
}

func NewChatProcessor(deps Deps) *ChatProcessor {
	return &ChatProcessor{deps: deps}
}

// RefusalMessage 返回策略拒绝时给用户的回复。
func RefusalMessage(reason string) string {
	return "Request blocked by security policy.\nReason: " + reason
}

// Process 处理一个任务并返回结果类别，不返回 error。任务内各步骤严格顺序执行。
func (p *ChatProcessor) Process(ctx context.Context, job model.ChatJob) Outcome {
	prefix := fmt.Sprintf("[Worker] [Req:%s] [Job:%s]", job.RequestID, job.ID)

	text, err := p.deps.Cipher.Decrypt(job.Message)
	if err != nil {
		log.Errorf("%s cannot decrypt job payload: %v", prefix, err)
		return fatal(fmt.Errorf("decrypt job message: %w", err))
	}

	rejection, err := p.deps.Gate.Screen(ctx, text)
	if err != nil {
		log.Warnf("%s input gate unavailable: %v", prefix, err)
		return retryable(err)
	}
	if rejection != nil {
		log.Warnf("%s REJECTED (stage %d): %s", prefix, rejection.Stage, rejection.Intent)
		if err := p.deps.Audit.Create(ctx, job.UserID, rejection.AuditAction()); err != nil {
			log.Errorf("%s failed to write audit log: %v", prefix, err)
		}
		return refusal(RefusalMessage(rejection.Reason))
	}

	msgs, err := p.deps.Assembler.Assemble(ctx, job, text)
	if err != nil {
		log.Errorf("%s assemble context failed: %v", prefix, err)
		return retryable(err)
	}

	result, err := p.deps.Loop.Run(ctx, msgs)
	if err != nil {
		log.Errorf("%s inference failed: %v", prefix, err)
		return retryable(err)
	}

	content, redacted := p.deps.Output.Scrub(result.Content)
	if redacted {
		log.Errorf("%s data leak detected in response, redacted", prefix)
	}

	encrypted, err := p.deps.Cipher.Encrypt(content)
	if err != nil {
		return retryable(fmt.Errorf("encrypt response: %w", err))
	}
	if err := p.deps.Messages.Append(ctx, &model.Message{
		ChatID:    job.ChatID,
		Role:      model.RoleAssistant,
		Content:   encrypted,
		Encrypted: true,
	}); err != nil {
		log.Errorf("%s persist assistant message failed: %v", prefix, err)
		return retryable(fmt.Errorf("persist assistant message: %w", err))
	}

	// 回复落库后才写入向量库与偏好记忆，失败重试不会重复写入。
	p.deps.Assembler.Observe(ctx, job, text)

	if p.deps.Meter != nil && job.UserID != "" {
		if err := p.deps.Meter.Record(ctx, job.UserID, result.TotalTokens); err != nil {
			log.Errorf("%s metering write failed: %v", prefix, err)
		}
	}

	log.Infof("%s COMPLETED, tool_calls: %d, tokens: %d", prefix, result.ToolCalls, result.TotalTokens)
	return success(content, result.TotalTokens)
}
