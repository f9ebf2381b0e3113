// Package pipeline 定义了对话任务与文件入库的核心处理流程。
package pipeline

import "fmt"

// OutcomeKind 标记一次任务执行的结果类别，worker 据此决定 Ack 还是 Nack。
type OutcomeKind int

const (
	// Success 正常完成。
	Success OutcomeKind = iota + 1
	// PolicyRefusal 被安全策略拒绝，任务仍以拒答内容完成，不重试。
	PolicyRefusal
	// Retryable 暂时性失败，按退避重试。
	Retryable
	// Fatal 重试也不会成功，直接进入死信。
	Fatal
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case PolicyRefusal:
		return "policy_refusal"
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome 是 ChatProcessor.Process 的返回值。Content 为明文回复，仅在 Success/PolicyRefusal 时有效。
type Outcome struct {
	Kind    OutcomeKind
	Content string
	Tokens  int
	Err     error
}

// Completed 判断任务是否应被 Ack。
func (o Outcome) Completed() bool {
	return o.Kind == Success || o.Kind == PolicyRefusal
}

func success(content string, tokens int) Outcome {
	return Outcome{Kind: Success, Content: content, Tokens: tokens}
}

func refusal(content string) Outcome {
	return Outcome{Kind: PolicyRefusal, Content: content}
}

func retryable(err error) Outcome {
	return Outcome{Kind: Retryable, Err: err}
}

func fatal(err error) Outcome {
	return Outcome{Kind: Fatal, Err: err}
}
